package graph

import "math"

// Window is a half-open visibility interval [Start, Start+Duration) with an
// optional linear fade at both edges.
type Window struct {
	Start    float64
	Duration float64
	Fade     float64
}

func (w Window) End() float64 {
	return w.Start + w.Duration
}

// Contains reports whether t is inside the window.
func (w Window) Contains(t float64) bool {
	return t >= w.Start && t < w.End()
}

// FadeLength is the fade duration clamped so fade-in and fade-out never overlap.
func (w Window) FadeLength() float64 {
	if w.Fade <= 0 || w.Duration <= 0 {
		return 0
	}
	return math.Min(w.Fade, w.Duration/2)
}

// Opacity is the element's alpha at time t.
func (w Window) Opacity(t float64) float64 {
	if !w.Contains(t) {
		return 0
	}
	fade := w.FadeLength()
	if fade == 0 {
		return 1
	}
	if t < w.Start+fade {
		return (t - w.Start) / fade
	}
	if t >= w.End()-fade {
		return (w.End() - t) / fade
	}
	return 1
}
