// Package graph describes a composition as a flat list of typed stages.
// The stages carry all position and timing arithmetic; encoder syntax lives in
// a separate backend (see package filtergraph).
package graph

type StreamKind int

const (
	Video StreamKind = iota
	Audio
)

func (k StreamKind) String() string {
	if k == Audio {
		return "a"
	}
	return "v"
}

// Input is one encoder input.
type Input struct {
	Path       string
	Lavfi      string  // generated source instead of a file
	LoopImage  bool    // repeat a still image as a video stream
	Duration   float64 // input length cap in seconds, 0 for none
	StreamLoop int     // extra plays of the file, 0 plays once
}

// Stage is one node of the composition. The set of implementations is closed.
type Stage interface {
	isStage()
}

// Source names a stream of an input so other stages can consume it.
type Source struct {
	Input int
	Kind  StreamKind
	Out   string
}

// Scale resizes and retimes a video stream. Fill scales up to cover the frame
// and center-crops; otherwise Height <= 0 keeps the aspect ratio. Zero Width
// skips resizing so the stage only normalizes frame rate.
type Scale struct {
	In, Out string
	Width   int
	Height  int
	Fill    bool
	FPS     int
}

// Trim cuts a video stream to [Start, End). End <= 0 means open-ended.
type Trim struct {
	In, Out string
	Start   float64
	End     float64
}

// Speed multiplies playback rate. Factor > 1 shortens the stream.
type Speed struct {
	In, Out string
	Factor  float64
}

// Concat joins streams of the same kind end to end.
type Concat struct {
	Ins  []string
	Out  string
	Kind StreamKind
}

// Split duplicates a stream.
type Split struct {
	In   string
	Outs []string
	Kind StreamKind
}

// Visualize renders an audio stream as video.
type Visualize struct {
	In, Out string
	Style   string
	Color   string
	Width   int
	Height  int
	FPS     int
}

// ColorKey makes pixels near Color transparent.
type ColorKey struct {
	In, Out    string
	Color      string
	Similarity float64
	Blend      float64
}

// Fade ramps a stream's alpha in and out at the window edges.
type Fade struct {
	In, Out string
	Window  Window
}

// Overlay composites Top onto Base at (X, Y), optionally only inside Window.
type Overlay struct {
	Base, Top, Out string
	X, Y           Coord
	Window         *Window
}

// Text draws a string onto a video stream.
type Text struct {
	In, Out  string
	Text     string
	TextFile string // preferred over Text when set
	FontFile string
	FontSize int
	Color    string
	Style    string
	X, Y     Coord
	Window   *Window
}

// Map selects a stream for the output file.
type Map struct {
	Label string
	Kind  StreamKind
}

func (Source) isStage()    {}
func (Scale) isStage()     {}
func (Trim) isStage()      {}
func (Speed) isStage()     {}
func (Concat) isStage()    {}
func (Split) isStage()     {}
func (Visualize) isStage() {}
func (ColorKey) isStage()  {}
func (Fade) isStage()      {}
func (Overlay) isStage()   {}
func (Text) isStage()      {}
func (Map) isStage()       {}

// Graph is a complete composition.
type Graph struct {
	Inputs []Input
	Stages []Stage
}

// Maps returns the output selections in order.
func (g *Graph) Maps() []Map {
	var maps []Map
	for _, s := range g.Stages {
		if m, ok := s.(Map); ok {
			maps = append(maps, m)
		}
	}
	return maps
}

// Sources indexes Source stages by output label.
func (g *Graph) Sources() map[string]Source {
	sources := make(map[string]Source)
	for _, s := range g.Stages {
		if src, ok := s.(Source); ok {
			sources[src.Out] = src
		}
	}
	return sources
}
