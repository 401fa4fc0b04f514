package graph

import "strings"

// Padding is the gap kept between an anchored element and the frame edge.
const Padding = 40

type Align int

const (
	AlignStart Align = iota
	AlignCenter
	AlignEnd
)

// Coord is one axis of an element's position: an alignment within the free
// space on that axis plus an inward offset in pixels.
type Coord struct {
	Align  Align
	Offset int
}

// Anchor resolves a nine-position grid name such as "bottom-right" to x and y
// coordinates with padding applied on the anchored edges. Unknown names center.
func Anchor(name string, padding int) (x, y Coord) {
	vertical, horizontal := splitAnchor(name)

	x = axis(horizontal, "left", "right", padding)
	y = axis(vertical, "top", "bottom", padding)
	return x, y
}

func axis(value, start, end string, padding int) Coord {
	switch value {
	case start:
		return Coord{Align: AlignStart, Offset: padding}
	case end:
		return Coord{Align: AlignEnd, Offset: padding}
	default:
		return Coord{Align: AlignCenter}
	}
}

func splitAnchor(name string) (vertical, horizontal string) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")

	switch name {
	case "", "center", "middle", "center-center", "middle-center":
		return "center", "center"
	case "top", "bottom":
		return name, "center"
	case "left", "right":
		return "center", name
	}

	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return "center", "center"
	}
	vertical, horizontal = parts[0], parts[1]
	if vertical == "middle" {
		vertical = "center"
	}
	return vertical, horizontal
}

// Resolve computes the pixel position of an element of size inner inside a
// frame of size outer.
func (c Coord) Resolve(outer, inner int) int {
	switch c.Align {
	case AlignEnd:
		return outer - inner - c.Offset
	case AlignCenter:
		return (outer-inner)/2 + c.Offset
	default:
		return c.Offset
	}
}
