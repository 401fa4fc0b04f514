// Package timeline reconciles visual sequence length against the audio program
// length and produces the RenderPlan consumed by the graph builder.
package timeline

import (
	"math"

	"github.com/samber/lo"

	"github.com/bobarin/composer/internal/models"
)

// MinAssetDuration is used for any asset whose duration is missing or non-positive.
const MinAssetDuration = 5.0

// repeatEpsilon absorbs float error so exact multiples do not gain an extra pass.
const repeatEpsilon = 1e-9

// Asset is a downloaded timeline entry.
type Asset struct {
	Path      string
	Type      models.AssetType
	Duration  float64 // stored or probed seconds, 0 if unknown
	LoopCount int     // 0 if unset
}

// Track is a downloaded music track.
type Track struct {
	Path     string
	Duration *float64
}

// Params is everything the calculator needs from a job and its resolved assets.
type Params struct {
	Assets           []Asset
	Tracks           []Track
	AudioPath        string // merged audio, empty when silent
	Speed            float64
	DefaultLoopCount int
	TrimStart        float64
	TrimEnd          float64
}

// PlannedAsset is an asset with its effective duration and loop count resolved.
type PlannedAsset struct {
	Path     string
	Type     models.AssetType
	Duration float64
	Loops    int
}

// Span is the time the asset occupies in one sequence pass.
func (a PlannedAsset) Span() float64 {
	return a.Duration * float64(a.Loops)
}

// Plan is an immutable render plan. It is passed by value; callers must not
// modify Assets.
type Plan struct {
	TargetDuration    float64
	PassDuration      float64
	EffectiveDuration float64
	RepeatCount       int
	OutputDuration    float64
	Speed             float64
	MusicDriven       bool
	TrimStart         float64
	TrimEnd           float64
	Assets            []PlannedAsset
	AudioPath         string
}

// HasAudio reports whether the plan carries a merged audio input.
func (p Plan) HasAudio() bool {
	return p.AudioPath != ""
}

// Calculate builds the render plan.
//
// Target duration is the rounded sum of known track durations, or one raw
// sequence pass when that sum is zero. The sequence repeats the minimum whole
// number of times needed to cover the target after speed scaling. Audio is never
// looped: when music drives the program, the output length is the music length
// regardless of speed.
func Calculate(p Params) Plan {
	speed := p.Speed
	if speed <= 0 {
		speed = 1
	}

	assets := lo.Map(p.Assets, func(a Asset, _ int) PlannedAsset {
		return PlannedAsset{
			Path:     a.Path,
			Type:     a.Type,
			Duration: effectiveDuration(a.Duration),
			Loops:    effectiveLoops(a.LoopCount, p.DefaultLoopCount),
		}
	})

	pass := lo.SumBy(assets, func(a PlannedAsset) float64 { return a.Span() })
	if pass <= 0 {
		pass = MinAssetDuration
	}

	musicTotal := MusicDuration(p.Tracks)
	target := math.Round(musicTotal)
	musicDriven := target > 0
	if !musicDriven {
		target = pass
	}

	effective := pass / speed
	output := target
	if !musicDriven {
		output = pass / speed
	}

	return Plan{
		TargetDuration:    target,
		PassDuration:      pass,
		EffectiveDuration: effective,
		RepeatCount:       RepeatCount(target, effective),
		OutputDuration:    output,
		Speed:             speed,
		MusicDriven:       musicDriven,
		TrimStart:         math.Max(p.TrimStart, 0),
		TrimEnd:           math.Max(p.TrimEnd, 0),
		Assets:            assets,
		AudioPath:         p.AudioPath,
	}
}

// MusicDuration sums the known, positive track durations.
func MusicDuration(tracks []Track) float64 {
	return lo.SumBy(tracks, func(t Track) float64 {
		if t.Duration == nil || *t.Duration <= 0 {
			return 0
		}
		return *t.Duration
	})
}

// RepeatCount is the minimum N >= 1 with N*effective >= target.
func RepeatCount(target, effective float64) int {
	if effective <= 0 || target <= 0 {
		return 1
	}
	n := int(math.Ceil(target/effective - repeatEpsilon))
	if n < 1 {
		return 1
	}
	return n
}

func effectiveDuration(d float64) float64 {
	if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return MinAssetDuration
	}
	return d
}

func effectiveLoops(own, jobDefault int) int {
	switch {
	case own > 0:
		return own
	case jobDefault > 0:
		return jobDefault
	default:
		return 1
	}
}

// TruncateSeconds cuts a duration to two decimals, the precision handed to the encoder.
func TruncateSeconds(d float64) float64 {
	return math.Trunc(d*100) / 100
}
