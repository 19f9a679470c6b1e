package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{"  Q  ", Command{Name: "q"}},
		{"search hello world", Command{Name: "search", Args: "hello world"}},
		{"room   Design team ", Command{Name: "room", Args: "Design team"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.in))
		})
	}
}
