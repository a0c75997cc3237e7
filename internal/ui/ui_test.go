package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Tests render against the Ascii profile so assertions see plain text
// regardless of the terminal running them.
func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	m.Run()
}

func TestGlyphLines(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"pass", Pass("synced %d notes", 3), "✓ synced 3 notes"},
		{"warn", Warn("queue has %d failed entries", 2), "! queue has 2 failed entries"},
		{"fail", Fail("sync failed"), "✗ sync failed"},
		{"bullet", Bullet("Work"), "• Work"},
		{"kv", KV("State", "idle"), "State: idle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestState_CoversEveryPhase(t *testing.T) {
	states := []string{
		"idle", "hydrating", "syncing", "error",
		"pending", "inflight", "failed", "rejected", "synced",
	}
	for _, s := range states {
		if got := State(s); !strings.Contains(got, s) {
			t.Errorf("State(%q) = %q, want the name to survive styling", s, got)
		}
	}
}
