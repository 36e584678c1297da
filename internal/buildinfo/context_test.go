package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{"nil context", nil, UnknownValue},
		{"empty version", NewContext("", "2026-01-01"), UnknownValue},
		{"valid version", NewContext("1.0.0", "2026-01-01"), "1.0.0"},
		{"pre-release tag", NewContext("1.0.0-beta.1", ""), "1.0.0-beta.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.GetVersion())
		})
	}
}

func TestContextString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ecosort 0.3.1 (built unknown)", NewContext("0.3.1", "").String())
	assert.Equal(t, UnknownValue, (*Context)(nil).GetBuildDate())
}
