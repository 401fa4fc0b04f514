package render

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// ParseProgressTime extracts the elapsed encoded time from an ffmpeg status
// line such as "frame=  120 fps=30 ... time=00:00:04.00 bitrate=...".
func ParseProgressTime(line string) (float64, bool) {
	idx := strings.LastIndex(line, "time=")
	if idx == -1 {
		return 0, false
	}

	value := strings.TrimLeft(line[idx+5:], " ")
	if end := strings.IndexAny(value, " \t"); end > 0 {
		value = value[:end]
	}
	if value == "" || value == "N/A" {
		return 0, false
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}

	if negative {
		return 0, true
	}
	return float64(h)*3600 + float64(m)*60 + s, true
}

// Percent converts elapsed seconds to a whole percentage of total, capped at
// 99 while the encoder is still running.
func Percent(elapsed, total float64) int {
	if total <= 0 || elapsed <= 0 {
		return 0
	}
	p := int(elapsed / total * 100)
	if p > 99 {
		return 99
	}
	return p
}

// throttle admits at most one event per interval. The first event always passes.
type throttle struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
	started  bool
}

func (t *throttle) ready() bool {
	now := t.now()
	if t.started && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.started = true
	return true
}

// lineTail keeps the most recent lines of diagnostic output.
type lineTail struct {
	lines []string
	max   int
}

func newLineTail(max int) *lineTail {
	return &lineTail{max: max}
}

func (t *lineTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}

// scanLinesWithCR handles both \r and \n as line delimiters; ffmpeg rewrites
// its status line with carriage returns.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
			advance++
		}
		return advance, data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
