package timeline

import (
	"math"
	"testing"

	"github.com/bobarin/composer/internal/models"
)

func f(v float64) *float64 { return &v }

func sampleAssets() []Asset {
	return []Asset{
		{Path: "a.mp4", Type: models.AssetTypeVideo, Duration: 5, LoopCount: 2},
		{Path: "b.mp4", Type: models.AssetTypeVideo, Duration: 10, LoopCount: 1},
	}
}

func TestRepeatCountAtSpeedOne(t *testing.T) {
	plan := Calculate(Params{
		Assets: sampleAssets(),
		Tracks: []Track{{Path: "m.mp3", Duration: f(45)}},
		Speed:  1,
	})

	if plan.PassDuration != 20 {
		t.Errorf("expected pass 20s, got %v", plan.PassDuration)
	}
	if plan.EffectiveDuration != 20 {
		t.Errorf("expected effective 20s, got %v", plan.EffectiveDuration)
	}
	if plan.RepeatCount != 3 {
		t.Errorf("expected 3 repeats, got %d", plan.RepeatCount)
	}
	if plan.OutputDuration != 45 {
		t.Errorf("expected output 45s, got %v", plan.OutputDuration)
	}
}

func TestRepeatCountAtDoubleSpeed(t *testing.T) {
	plan := Calculate(Params{
		Assets: sampleAssets(),
		Tracks: []Track{{Path: "m.mp3", Duration: f(45)}},
		Speed:  2,
	})

	if plan.EffectiveDuration != 10 {
		t.Errorf("expected effective 10s, got %v", plan.EffectiveDuration)
	}
	if plan.RepeatCount != 5 {
		t.Errorf("expected 5 repeats, got %d", plan.RepeatCount)
	}
	if plan.OutputDuration != 45 {
		t.Errorf("music governs output regardless of speed, got %v", plan.OutputDuration)
	}
}

func TestRepeatCountBoundary(t *testing.T) {
	cases := []struct {
		target, effective float64
		want              int
	}{
		{40, 20, 2},
		{40.0001, 20, 3},
		{20, 20, 1},
		{0.3, 0.1, 3},
		{0.7, 0.1, 7},
		{5, 0, 1},
		{0, 10, 1},
	}
	for _, tc := range cases {
		got := RepeatCount(tc.target, tc.effective)
		if got != tc.want {
			t.Errorf("RepeatCount(%v, %v) = %d, want %d", tc.target, tc.effective, got, tc.want)
		}
		if tc.effective > 0 && tc.target > 0 && float64(got)*tc.effective < tc.target-1e-6 {
			t.Errorf("RepeatCount(%v, %v) = %d does not cover target", tc.target, tc.effective, got)
		}
	}
}

func TestMusicTargetIsRounded(t *testing.T) {
	plan := Calculate(Params{
		Assets: sampleAssets(),
		Tracks: []Track{{Duration: f(30.4)}, {Duration: f(44.7)}, {Duration: nil}},
		Speed:  0.5,
	})

	if plan.TargetDuration != 75 {
		t.Errorf("expected rounded target 75, got %v", plan.TargetDuration)
	}
	if !plan.MusicDriven {
		t.Error("expected music-driven plan")
	}
	// 20s pass at half speed lasts 40s, so two passes cover 75s.
	if plan.RepeatCount != 2 {
		t.Errorf("expected 2 repeats, got %d", plan.RepeatCount)
	}
}

func TestNoMusicUsesSequenceDuration(t *testing.T) {
	for _, speed := range []float64{0.5, 1, 2, 3} {
		plan := Calculate(Params{Assets: sampleAssets(), Speed: speed})

		if plan.MusicDriven {
			t.Errorf("speed %v: expected plan without music", speed)
		}
		if plan.TargetDuration != 20 {
			t.Errorf("speed %v: expected target to fall back to pass 20s, got %v", speed, plan.TargetDuration)
		}
		want := 20 / speed
		if math.Abs(plan.OutputDuration-want) > 1e-9 {
			t.Errorf("speed %v: expected output %v, got %v", speed, want, plan.OutputDuration)
		}
		if float64(plan.RepeatCount)*plan.EffectiveDuration < plan.OutputDuration {
			t.Errorf("speed %v: visuals do not cover output", speed)
		}
	}
}

func TestUnknownMusicDurationsFallBack(t *testing.T) {
	plan := Calculate(Params{
		Assets: sampleAssets(),
		Tracks: []Track{{Duration: nil}, {Duration: f(0)}},
		Speed:  1,
	})
	if plan.MusicDriven {
		t.Error("expected fallback when all durations are unknown")
	}
	if plan.TargetDuration != 20 {
		t.Errorf("expected target 20, got %v", plan.TargetDuration)
	}
}

func TestDefaultsForMissingValues(t *testing.T) {
	plan := Calculate(Params{
		Assets: []Asset{
			{Path: "img.png", Type: models.AssetTypeImage},
			{Path: "clip.mp4", Type: models.AssetTypeVideo, Duration: 4},
		},
		DefaultLoopCount: 3,
	})

	if plan.Assets[0].Duration != MinAssetDuration {
		t.Errorf("expected missing duration to default to %v, got %v", MinAssetDuration, plan.Assets[0].Duration)
	}
	if plan.Assets[1].Loops != 3 {
		t.Errorf("expected job default loop count 3, got %d", plan.Assets[1].Loops)
	}
	if plan.PassDuration != 27 {
		t.Errorf("expected pass 27s, got %v", plan.PassDuration)
	}
	if plan.Speed != 1 {
		t.Errorf("expected zero speed to default to 1, got %v", plan.Speed)
	}
}

func TestEmptyTimelineDoesNotDivideByZero(t *testing.T) {
	plan := Calculate(Params{Tracks: []Track{{Duration: f(12)}}})

	if plan.PassDuration != MinAssetDuration {
		t.Errorf("expected pass %v, got %v", MinAssetDuration, plan.PassDuration)
	}
	if plan.RepeatCount != 3 {
		t.Errorf("expected 3 repeats of 5s to cover 12s, got %d", plan.RepeatCount)
	}
	if plan.OutputDuration != 12 {
		t.Errorf("expected output 12, got %v", plan.OutputDuration)
	}
}

func TestTruncateSeconds(t *testing.T) {
	if got := TruncateSeconds(12.349); got != 12.34 {
		t.Errorf("expected 12.34, got %v", got)
	}
	if got := TruncateSeconds(45); got != 45 {
		t.Errorf("expected 45, got %v", got)
	}
}
