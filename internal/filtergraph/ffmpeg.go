// Package filtergraph serializes a composition graph into ffmpeg arguments.
package filtergraph

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bobarin/composer/internal/graph"
)

// Encoding holds the output codec settings.
type Encoding struct {
	VideoCodec   string
	Preset       string
	CRF          int
	PixelFormat  string
	AudioCodec   string
	AudioBitrate string
}

func DefaultEncoding() Encoding {
	return Encoding{
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		CRF:          20,
		PixelFormat:  "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: "192k",
	}
}

// Serializer turns graphs into ffmpeg command-line arguments.
type Serializer struct {
	enc Encoding
}

func New(enc Encoding) *Serializer {
	return &Serializer{enc: enc}
}

// Args returns input, filter, map and codec arguments. The caller appends the
// duration cap and output path.
func (s *Serializer) Args(g *graph.Graph) ([]string, error) {
	if len(g.Inputs) == 0 {
		return nil, fmt.Errorf("graph has no inputs")
	}

	var args []string
	for _, in := range g.Inputs {
		args = append(args, InputArgs(in)...)
	}

	sources := g.Sources()
	fc, err := FilterComplex(g, sources)
	if err != nil {
		return nil, err
	}
	if fc != "" {
		args = append(args, "-filter_complex", fc)
	}

	hasAudio := false
	for _, m := range g.Maps() {
		args = append(args, "-map", mapRef(m.Label, sources))
		if m.Kind == graph.Audio {
			hasAudio = true
		}
	}

	args = append(args,
		"-c:v", s.enc.VideoCodec,
		"-preset", s.enc.Preset,
		"-crf", strconv.Itoa(s.enc.CRF),
		"-pix_fmt", s.enc.PixelFormat,
	)
	if hasAudio {
		args = append(args, "-c:a", s.enc.AudioCodec, "-b:a", s.enc.AudioBitrate)
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart")

	return args, nil
}

// InputArgs renders the options and -i flag for one input.
func InputArgs(in graph.Input) []string {
	if in.Lavfi != "" {
		args := []string{"-f", "lavfi"}
		if in.Duration > 0 {
			args = append(args, "-t", num(in.Duration))
		}
		return append(args, "-i", in.Lavfi)
	}

	var args []string
	if in.LoopImage {
		args = append(args, "-loop", "1")
	}
	if in.StreamLoop > 0 {
		args = append(args, "-stream_loop", strconv.Itoa(in.StreamLoop))
	}
	if in.Duration > 0 {
		args = append(args, "-t", num(in.Duration))
	}
	return append(args, "-i", in.Path)
}

// FilterComplex renders every processing stage as one filter chain each.
func FilterComplex(g *graph.Graph, sources map[string]graph.Source) (string, error) {
	ref := func(label string) string {
		if src, ok := sources[label]; ok {
			return fmt.Sprintf("[%d:%s]", src.Input, src.Kind)
		}
		return "[" + label + "]"
	}

	var chains []string
	for _, stage := range g.Stages {
		var chain string
		switch st := stage.(type) {
		case graph.Source, graph.Map:
			continue
		case graph.Scale:
			chain = ref(st.In) + scaleFilter(st) + out(st.Out)
		case graph.Trim:
			chain = ref(st.In) + trimFilter(st) + out(st.Out)
		case graph.Speed:
			if st.Factor <= 0 {
				return "", fmt.Errorf("invalid speed factor %v", st.Factor)
			}
			chain = ref(st.In) + "setpts=PTS/" + num(st.Factor) + out(st.Out)
		case graph.Concat:
			var ins strings.Builder
			for _, l := range st.Ins {
				ins.WriteString(ref(l))
			}
			v, a := 1, 0
			if st.Kind == graph.Audio {
				v, a = 0, 1
			}
			chain = fmt.Sprintf("%sconcat=n=%d:v=%d:a=%d%s", ins.String(), len(st.Ins), v, a, out(st.Out))
		case graph.Split:
			name := "split"
			if st.Kind == graph.Audio {
				name = "asplit"
			}
			var outs strings.Builder
			for _, l := range st.Outs {
				outs.WriteString(out(l))
			}
			chain = fmt.Sprintf("%s%s=%d%s", ref(st.In), name, len(st.Outs), outs.String())
		case graph.Visualize:
			chain = ref(st.In) + visualizeFilter(st) + out(st.Out)
		case graph.ColorKey:
			chain = fmt.Sprintf("%sformat=rgba,colorkey=%s:%s:%s%s", ref(st.In), color(st.Color), num(st.Similarity), num(st.Blend), out(st.Out))
		case graph.Fade:
			chain = ref(st.In) + fadeFilter(st.Window) + out(st.Out)
		case graph.Overlay:
			chain = ref(st.Base) + ref(st.Top) + overlayFilter(st) + out(st.Out)
		case graph.Text:
			chain = ref(st.In) + drawtextFilter(st) + out(st.Out)
		default:
			return "", fmt.Errorf("unsupported stage %T", stage)
		}
		chains = append(chains, chain)
	}

	return strings.Join(chains, ";"), nil
}

func out(label string) string {
	return "[" + label + "]"
}

func mapRef(label string, sources map[string]graph.Source) string {
	if src, ok := sources[label]; ok {
		return fmt.Sprintf("%d:%s", src.Input, src.Kind)
	}
	return "[" + label + "]"
}

func scaleFilter(st graph.Scale) string {
	var parts []string
	switch {
	case st.Fill:
		parts = append(parts,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", st.Width, st.Height),
			fmt.Sprintf("crop=%d:%d", st.Width, st.Height),
			"setsar=1",
		)
	case st.Width > 0:
		h := st.Height
		if h <= 0 {
			h = -1
		}
		parts = append(parts, fmt.Sprintf("scale=%d:%d", st.Width, h))
	}
	if st.FPS > 0 {
		parts = append(parts, fmt.Sprintf("fps=%d", st.FPS))
	}
	if st.Fill {
		parts = append(parts, "format=yuv420p")
	}
	if len(parts) == 0 {
		return "null"
	}
	return strings.Join(parts, ",")
}

func trimFilter(st graph.Trim) string {
	f := "trim=start=" + num(st.Start)
	if st.End > 0 {
		f += ":end=" + num(st.End)
	}
	return f + ",setpts=PTS-STARTPTS"
}

func visualizeFilter(st graph.Visualize) string {
	size := fmt.Sprintf("%dx%d", st.Width, st.Height)
	c := color(st.Color)

	switch st.Style {
	case "line":
		return fmt.Sprintf("showwaves=s=%s:mode=line:rate=%d:colors=%s", size, st.FPS, c)
	case "wave":
		return fmt.Sprintf("showwaves=s=%s:mode=cline:rate=%d:colors=%s", size, st.FPS, c)
	case "spectrum":
		return fmt.Sprintf("showspectrum=s=%s:mode=combined:slide=scroll:color=intensity,fps=%d", size, st.FPS)
	case "round":
		return fmt.Sprintf("avectorscope=s=%s:mode=lissajous_xy:draw=line:rate=%d:zoom=1.5", size, st.FPS)
	default:
		return fmt.Sprintf("showfreqs=s=%s:mode=bar:ascale=log:fscale=log:colors=%s,fps=%d", size, c, st.FPS)
	}
}

func fadeFilter(w graph.Window) string {
	fade := w.FadeLength()
	return fmt.Sprintf("format=rgba,fade=t=in:st=%s:d=%s:alpha=1,fade=t=out:st=%s:d=%s:alpha=1",
		num(w.Start), num(fade), num(w.End()-fade), num(fade))
}

func overlayFilter(st graph.Overlay) string {
	f := fmt.Sprintf("overlay=x=%s:y=%s:eof_action=pass",
		coordExpr(st.X, "W", "w"), coordExpr(st.Y, "H", "h"))
	if st.Window != nil {
		f += ":enable=" + quote(enableExpr(*st.Window))
	}
	return f
}

func drawtextFilter(st graph.Text) string {
	opts := []string{}
	if st.FontFile != "" {
		opts = append(opts, "fontfile="+quote(escapeFilterValue(st.FontFile)))
	}
	if st.TextFile != "" {
		opts = append(opts, "textfile="+quote(escapeFilterValue(st.TextFile)))
	} else {
		opts = append(opts, "text="+quote(escapeFilterValue(st.Text)))
	}
	opts = append(opts,
		"expansion=none",
		fmt.Sprintf("fontsize=%d", st.FontSize),
		"fontcolor="+color(st.Color),
		"x="+quote(coordExpr(st.X, "w", "text_w")),
		"y="+quote(coordExpr(st.Y, "h", "text_h")),
	)
	opts = append(opts, textStyleOptions(st.Style, st.Color)...)

	if st.Window != nil {
		if st.Window.FadeLength() > 0 {
			opts = append(opts, "alpha="+quote(AlphaExpr(*st.Window)))
		}
		opts = append(opts, "enable="+quote(enableExpr(*st.Window)))
	}

	return "drawtext=" + strings.Join(opts, ":")
}

func textStyleOptions(style, fg string) []string {
	switch style {
	case "outlined":
		return []string{"borderw=3", "bordercolor=black"}
	case "shadow":
		return []string{"shadowx=4", "shadowy=4", "shadowcolor=black@0.6"}
	case "boxed":
		return []string{"box=1", "boxcolor=black@0.5", "boxborderw=20"}
	case "glow":
		return []string{"borderw=8", "bordercolor=" + color(fg) + "@0.35"}
	default:
		return nil
	}
}

// coordExpr renders a coordinate against the frame size variable and the
// element size variable of the consuming filter.
func coordExpr(c graph.Coord, frame, elem string) string {
	switch c.Align {
	case graph.AlignEnd:
		return fmt.Sprintf("%s-%s-%d", frame, elem, c.Offset)
	case graph.AlignCenter:
		if c.Offset != 0 {
			return fmt.Sprintf("(%s-%s)/2+%d", frame, elem, c.Offset)
		}
		return fmt.Sprintf("(%s-%s)/2", frame, elem)
	default:
		return strconv.Itoa(c.Offset)
	}
}

// enableExpr is true exactly on [start, end).
func enableExpr(w graph.Window) string {
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", num(w.Start), num(w.End()))
}

// AlphaExpr mirrors graph.Window.Opacity as an ffmpeg expression.
func AlphaExpr(w graph.Window) string {
	s, e, f := num(w.Start), num(w.End()), w.FadeLength()
	if f <= 0 {
		return fmt.Sprintf("if(gte(t,%s)*lt(t,%s),1,0)", s, e)
	}
	fs := num(f)
	return fmt.Sprintf("if(lt(t,%s),0,if(lt(t,%s),(t-%s)/%s,if(lt(t,%s),1,if(lt(t,%s),(%s-t)/%s,0))))",
		s, num(w.Start+f), s, fs, num(w.End()-f), e, e, fs)
}

func color(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return "white"
	}
	if strings.HasPrefix(c, "#") {
		return "0x" + c[1:]
	}
	return c
}

func quote(v string) string {
	return "'" + v + "'"
}

// escapeFilterValue escapes a value placed inside single quotes in a filter graph.
func escapeFilterValue(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, ":", "\\:")
	v = strings.ReplaceAll(v, "'", "'\\''")
	return v
}

// num formats seconds and factors with at most millisecond precision.
func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}
