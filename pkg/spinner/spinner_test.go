package spinner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinnerCyclesFrames(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf)

	for range len(s.frames) + 1 {
		s.Update("1.0 MB")
	}
	s.Cleanup()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\033[?25l"), "cursor hidden once")
	assert.Equal(t, len(s.frames)+1, strings.Count(out, "1.0 MB"))
	assert.Equal(t, 2, strings.Count(out, s.frames[0]+"1.0 MB"), "wraps to the first frame")
	assert.True(t, strings.HasSuffix(out, "\033[?25h"))
}
