package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Barcelona Aeropuerto", "Barcelona Aeropuerto"},
		{"Puerto &amp; Faro", "Puerto & Faro"},
		{"<b>Lleida</b>\n  Observatori", "Lleida Observatori"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.in), tt.in)
	}
}

func TestToText(t *testing.T) {
	assert.Equal(t, "Dry springs & late frost.", strings.TrimSpace(ToText("<b>Dry springs &amp; late frost.</b>")))
}
