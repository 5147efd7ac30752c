package encoder

import (
	"strings"
	"testing"
)

func TestBuildNormalizeArgs(t *testing.T) {
	tests := []struct {
		name            string
		includeProgress bool
		wantContains    []string
		wantNotContains []string
	}{
		{
			name: "fixed parameters",
			wantContains: []string{
				"-i /in/.song.source.m4a",
				"-vn",
				"-c:a aac",
				"-b:a 128k",
				"-ar 44100",
				"-af aresample=async=1",
				"-movflags +faststart",
				"-f ipod",
			},
			wantNotContains: []string{"-progress"},
		},
		{
			name:            "with progress",
			includeProgress: true,
			wantContains:    []string{"-progress pipe:1", "-nostats"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := BuildNormalizeArgs("/in/.song.source.m4a", "/in/song.m4a", tt.includeProgress)
			joined := strings.Join(args, " ")

			for _, want := range tt.wantContains {
				if !strings.Contains(joined, want) {
					t.Errorf("BuildNormalizeArgs() missing %q in args: %v", want, args)
				}
			}
			for _, notWant := range tt.wantNotContains {
				if strings.Contains(joined, notWant) {
					t.Errorf("BuildNormalizeArgs() should not contain %q in args: %v", notWant, args)
				}
			}
			if got := args[len(args)-1]; got != "/in/song.m4a" {
				t.Errorf("BuildNormalizeArgs() last arg = %q, want output path", got)
			}
		})
	}
}
