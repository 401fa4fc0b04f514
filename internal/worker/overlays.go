package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/composer/internal/graph"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/timeline"
)

// graphOptions resolves the job's visualizer and overlay configuration into
// graph elements. Invalid or unfetchable overlays are skipped.
func (p *Pipeline) graphOptions(ctx context.Context, logger *slog.Logger, job *models.Job, plan timeline.Plan, scratch string) (graph.Options, error) {
	opts := graph.Options{Format: p.format}

	if job.Visualizer.Valid && job.Visualizer.V.Enabled {
		v := job.Visualizer.V
		if plan.HasAudio() {
			opts.Visualizer = &v
		} else {
			logger.Warn("visualizer enabled but job has no audio")
		}
	}

	if !job.OverlaysConfigured() {
		if strings.TrimSpace(job.Title) != "" {
			el, err := p.textElement(ctx, job, scratch, "title", job.Title, "", 0, "", "", graph.Window{})
			if err != nil {
				return opts, err
			}
			opts.LegacyTitle = el
		}
		return opts, nil
	}

	cfg := job.Overlays.V
	if title := cfg.Title; title.Enabled && strings.TrimSpace(title.Text) != "" {
		duration := title.Duration
		if duration <= 0 {
			duration = plan.OutputDuration - title.Start
		}
		if duration > 0 {
			el, err := p.textElement(ctx, job, scratch, "title", title.Text, title.Font, title.FontSize, title.Color, title.Style,
				graph.Window{Start: title.Start, Duration: duration, Fade: title.Fade})
			if err != nil {
				return opts, err
			}
			el.Position = orDefault(title.Position, "center")
			opts.Elements = append(opts.Elements, graph.Element{Text: el})
		}
	}

	for i, item := range cfg.Items {
		if err := p.validate.Struct(item); err != nil {
			logger.Warn("skipping invalid overlay", "index", i, "overlay_id", item.ID, "error", err)
			continue
		}
		window := graph.Window{Start: item.Start, Duration: item.Duration, Fade: item.Fade}

		switch item.Type {
		case models.OverlayTypeText:
			el, err := p.textElement(ctx, job, scratch, fmt.Sprintf("overlay-%02d", i), item.Text, item.Font, item.FontSize, item.Color, item.Style, window)
			if err != nil {
				return opts, err
			}
			el.Position = orDefault(item.Position, "bottom-center")
			opts.Elements = append(opts.Elements, graph.Element{Text: el})

		case models.OverlayTypeImage:
			dest := filepath.Join(scratch, fmt.Sprintf("overlay-%02d%s", i, extension(item.URL, ".png")))
			if err := p.fetcher.Fetch(ctx, item.URL, dest); err != nil {
				logger.Warn("skipping overlay image", "index", i, "overlay_id", item.ID, "error", err)
				continue
			}
			opts.Elements = append(opts.Elements, graph.Element{Image: &graph.ImageElement{
				Path:     dest,
				Width:    item.Width,
				Position: orDefault(item.Position, "top-right"),
				Window:   window,
			}})
		}
	}

	return opts, nil
}

// textElement writes text to a file so the encoder never has to parse user
// text inside the graph description.
func (p *Pipeline) textElement(ctx context.Context, job *models.Job, scratch, name, text, font string, size int, color string, style models.TextStyle, window graph.Window) (*graph.TextElement, error) {
	textFile := filepath.Join(scratch, name+".txt")
	if err := os.WriteFile(textFile, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write overlay text: %w", err)
	}

	return &graph.TextElement{
		Text:     text,
		TextFile: textFile,
		FontFile: p.fetcher.ResolveFont(ctx, job.ProjectID, font, scratch),
		FontSize: size,
		Color:    color,
		Style:    style,
		Window:   window,
	}, nil
}

// orDefault returns v, or fallback when v is blank.
func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
