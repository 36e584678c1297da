// Package spinner draws a single line progress indicator on a terminal.
package spinner

import (
	"fmt"
	"io"
)

// Spinner holds the spinner state
type Spinner struct {
	w      io.Writer
	frames []string
	index  int
}

// NewSpinner creates a spinner writing to w
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{
		w: w,
		frames: []string{
			"⣀⣀ ", "⣄⣀ ", "⣤⣀ ", "⣦⣄ ", "⣶⣤ ", "⣿⣦ ", "⣿⣷ ", "⣿⣿ ",
			"⣷⣿ ", "⣦⣿ ", "⣤⣷ ", "⣄⣦ ", "⣀⣤ ", "⣀⣄ ",
		},
	}
}

// Update advances to the next frame and redraws the line with status.
func (s *Spinner) Update(status string) {
	if s.index == 0 {
		// Hide cursor
		fmt.Fprint(s.w, "\033[?25l")
	}
	fmt.Fprintf(s.w, "\r\033[K%s%s", s.frames[s.index%len(s.frames)], status)
	s.index++
}

// Cleanup clears the line and shows the cursor
func (s *Spinner) Cleanup() {
	fmt.Fprint(s.w, "\r\033[K")
	fmt.Fprint(s.w, "\033[?25h")
}
