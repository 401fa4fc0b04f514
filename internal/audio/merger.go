// Package audio concatenates a playlist of music tracks into a single clean stream.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	SampleRate    = 44100
	ChannelLayout = "stereo"
	Codec         = "aac"
	Bitrate       = "192k"
)

// Runner executes an ffmpeg argument list.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// Merger joins ordered audio files into one stream with monotonic timestamps
// and a fixed codec, sample rate and channel layout.
type Merger struct {
	runner Runner
	logger *slog.Logger
}

func NewMerger(runner Runner, logger *slog.Logger) *Merger {
	return &Merger{runner: runner, logger: logger}
}

// Merge writes the concatenation of tracks to outPath and returns it. With no
// tracks it returns an empty path and the job renders silent.
func (m *Merger) Merge(ctx context.Context, tracks []string, outPath string) (string, error) {
	if len(tracks) == 0 {
		m.logger.Warn("no valid audio tracks, rendering without audio")
		return "", nil
	}

	m.logger.Info("merging audio tracks", "tracks", len(tracks))
	if err := m.runner.Run(ctx, MergeArgs(tracks, outPath)); err != nil {
		return "", fmt.Errorf("failed to merge audio tracks: %w", err)
	}
	return outPath, nil
}

// MergeArgs resamples every track to the common format, then concatenates them
// with the concat filter so timestamps are regenerated across track boundaries.
func MergeArgs(tracks []string, outPath string) []string {
	streams := make([]*ffmpeg.Stream, 0, len(tracks))
	for _, t := range tracks {
		s := ffmpeg.Input(t).Audio().
			Filter("aresample", ffmpeg.Args{strconv.Itoa(SampleRate)}).
			Filter("aformat", nil, ffmpeg.KwArgs{
				"sample_fmts":     "fltp",
				"sample_rates":    SampleRate,
				"channel_layouts": ChannelLayout,
			})
		streams = append(streams, s)
	}

	return ffmpeg.Concat(streams, ffmpeg.KwArgs{"v": 0, "a": 1}).
		Output(outPath, ffmpeg.KwArgs{
			"c:a": Codec,
			"b:a": Bitrate,
			"ar":  SampleRate,
			"ac":  2,
		}).
		OverWriteOutput().
		GetArgs()
}
