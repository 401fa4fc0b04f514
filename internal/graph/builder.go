package graph

import (
	"fmt"
	"strings"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/timeline"
)

// Format is the fixed output frame format.
type Format struct {
	Width  int
	Height int
	FPS    int
}

// TextElement is a resolved text overlay.
type TextElement struct {
	Text     string
	TextFile string
	FontFile string
	FontSize int
	Color    string
	Style    models.TextStyle
	Position string
	Window   Window
}

// ImageElement is a resolved image overlay.
type ImageElement struct {
	Path     string
	Width    int
	Position string
	Window   Window
}

// Element is one overlay in draw order. Exactly one of Text and Image is set.
type Element struct {
	Text  *TextElement
	Image *ImageElement
}

// Options carries everything beyond the render plan.
type Options struct {
	Format     Format
	Visualizer *models.VisualizerConfig
	// Elements are drawn in order, after the visualizer.
	Elements []Element
	// LegacyTitle is drawn centered for the whole program when the job has no
	// overlay configuration at all.
	LegacyTitle *TextElement
}

const (
	defaultTextColor  = "white"
	visualizerKey     = "0x000000"
	visualizerKeySim  = 0.1
	visualizerKeyBlnd = 0.1
)

type builder struct {
	g    Graph
	next int
}

func (b *builder) label(prefix string) string {
	l := fmt.Sprintf("%s%d", prefix, b.next)
	b.next++
	return l
}

func (b *builder) input(in Input) int {
	b.g.Inputs = append(b.g.Inputs, in)
	return len(b.g.Inputs) - 1
}

func (b *builder) add(s Stage) {
	b.g.Stages = append(b.g.Stages, s)
}

// Build turns a render plan into a composition graph.
func Build(plan timeline.Plan, opts Options) *Graph {
	b := &builder{}
	f := opts.Format

	video := b.baseVideo(plan, f)

	var audio string
	if plan.HasAudio() {
		idx := b.input(Input{Path: plan.AudioPath})
		audio = b.label("a")
		b.add(Source{Input: idx, Kind: Audio, Out: audio})
	}

	if opts.Visualizer != nil && opts.Visualizer.Enabled && audio != "" {
		video, audio = b.visualizer(video, audio, *opts.Visualizer, f)
	}

	for _, el := range opts.Elements {
		switch {
		case el.Text != nil:
			video = b.text(video, *el.Text, f)
		case el.Image != nil:
			video = b.image(video, *el.Image, f)
		}
	}

	if len(opts.Elements) == 0 && opts.LegacyTitle != nil && strings.TrimSpace(opts.LegacyTitle.Text) != "" {
		title := *opts.LegacyTitle
		title.Position = "center"
		title.Window = Window{Start: 0, Duration: plan.OutputDuration}
		video = b.text(video, title, f)
	}

	b.add(Map{Label: video, Kind: Video})
	if audio != "" {
		b.add(Map{Label: audio, Kind: Audio})
	}

	return &b.g
}

// baseVideo concatenates the sequence RepeatCount times, normalizing every
// segment to the output format, then applies trim, speed and frame rate.
func (b *builder) baseVideo(plan timeline.Plan, f Format) string {
	var segments []string

	if len(plan.Assets) == 0 {
		idx := b.input(Input{Lavfi: fmt.Sprintf("color=c=black:s=%dx%d:r=%d", f.Width, f.Height, f.FPS)})
		src := b.label("v")
		b.add(Source{Input: idx, Kind: Video, Out: src})
		segments = append(segments, src)
	} else {
		for r := 0; r < plan.RepeatCount; r++ {
			for _, asset := range plan.Assets {
				in := Input{Path: asset.Path}
				if asset.Type == models.AssetTypeImage {
					in.LoopImage = true
					in.Duration = asset.Span()
				} else {
					in.StreamLoop = asset.Loops - 1
				}
				idx := b.input(in)

				src := b.label("v")
				b.add(Source{Input: idx, Kind: Video, Out: src})

				norm := b.label("n")
				b.add(Scale{In: src, Out: norm, Width: f.Width, Height: f.Height, Fill: true, FPS: f.FPS})
				segments = append(segments, norm)
			}
		}
	}

	current := segments[0]
	if len(segments) > 1 {
		current = b.label("seq")
		b.add(Concat{Ins: segments, Out: current, Kind: Video})
	}

	if start, end, ok := trimWindow(plan.TrimStart, plan.TrimEnd); ok {
		out := b.label("trim")
		b.add(Trim{In: current, Out: out, Start: start, End: end})
		current = out
	}

	if plan.Speed != 1 {
		out := b.label("speed")
		b.add(Speed{In: current, Out: out, Factor: plan.Speed})
		current = out
	}

	out := b.label("base")
	b.add(Scale{In: current, Out: out, FPS: f.FPS})
	return out
}

// trimWindow applies [start, end) when end is set, otherwise cuts from start.
// An end at or before start is ignored.
func trimWindow(start, end float64) (float64, float64, bool) {
	if end > 0 && end > start {
		return start, end, true
	}
	if start > 0 {
		return start, 0, true
	}
	return 0, 0, false
}

func (b *builder) visualizer(video, audio string, cfg models.VisualizerConfig, f Format) (string, string) {
	vizIn := b.label("aviz")
	audioOut := b.label("aout")
	b.add(Split{In: audio, Outs: []string{vizIn, audioOut}, Kind: Audio})

	style := strings.ToLower(string(cfg.Style))
	if style == "" {
		style = string(models.VisualizerBar)
	}
	color := cfg.Color
	if color == "" {
		color = defaultTextColor
	}

	w, h := VisualizerSize(models.VisualizerStyle(style), f)
	viz := b.label("viz")
	b.add(Visualize{In: vizIn, Out: viz, Style: style, Color: color, Width: w, Height: h, FPS: f.FPS})

	keyed := b.label("vizk")
	b.add(ColorKey{In: viz, Out: keyed, Color: visualizerKey, Similarity: visualizerKeySim, Blend: visualizerKeyBlnd})

	x, y := VisualizerPosition(cfg)
	out := b.label("vv")
	b.add(Overlay{Base: video, Top: keyed, Out: out, X: x, Y: y})
	return out, audioOut
}

// VisualizerSize is the generated visualizer frame. The circular style is a
// square half the short edge; others span the width at a quarter of the height.
func VisualizerSize(style models.VisualizerStyle, f Format) (int, int) {
	if style == models.VisualizerRound {
		side := f.Height
		if f.Width < side {
			side = f.Width
		}
		side /= 2
		return side, side
	}
	return f.Width, f.Height / 4
}

// VisualizerPosition places the visualizer on its configured edge, or centered
// for the circular style.
func VisualizerPosition(cfg models.VisualizerConfig) (Coord, Coord) {
	x := Coord{Align: AlignCenter}
	if cfg.Style == models.VisualizerRound {
		return x, Coord{Align: AlignCenter}
	}
	if strings.ToLower(cfg.Position) == "top" {
		return x, Coord{Align: AlignStart}
	}
	return x, Coord{Align: AlignEnd}
}

func (b *builder) text(video string, el TextElement, f Format) string {
	x, y := Anchor(el.Position, Padding)

	size := el.FontSize
	if size <= 0 {
		size = f.Height / 18
	}
	color := el.Color
	if color == "" {
		color = defaultTextColor
	}
	style := el.Style
	if style == "" {
		style = models.TextStylePlain
	}

	window := el.Window
	out := b.label("txt")
	b.add(Text{
		In:       video,
		Out:      out,
		Text:     el.Text,
		TextFile: el.TextFile,
		FontFile: el.FontFile,
		FontSize: size,
		Color:    color,
		Style:    string(style),
		X:        x,
		Y:        y,
		Window:   &window,
	})
	return out
}

func (b *builder) image(video string, el ImageElement, f Format) string {
	idx := b.input(Input{Path: el.Path, LoopImage: true, Duration: el.Window.End()})

	src := b.label("img")
	b.add(Source{Input: idx, Kind: Video, Out: src})

	width := el.Width
	if width <= 0 {
		width = f.Width / 4
	}
	scaled := b.label("imgs")
	b.add(Scale{In: src, Out: scaled, Width: width, Height: -1})

	top := scaled
	if el.Window.FadeLength() > 0 {
		top = b.label("imgf")
		b.add(Fade{In: scaled, Out: top, Window: el.Window})
	}

	x, y := Anchor(el.Position, Padding)
	window := el.Window
	out := b.label("ov")
	b.add(Overlay{Base: video, Top: top, Out: out, X: x, Y: y, Window: &window})
	return out
}
