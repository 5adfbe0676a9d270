package mixer

import (
	"strings"
	"testing"
)

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		expectErr bool
	}{
		{"simple", "mic", false},
		{"with hyphen", "input-1", false},
		{"with underscore", "line_in", false},
		{"mixed", "USB-Mic_2", false},
		{"empty", "", true},
		{"space", "my mic", true},
		{"slash", "a/b", true},
		{"dot", "a.b", true},
		{"unicode", "mïc", true},
		{"max length", strings.Repeat("a", 100), false},
		{"too long", strings.Repeat("a", 101), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChannelID(tt.id)
			if tt.expectErr && err == nil {
				t.Errorf("ParseChannelID(%q): expected error", tt.id)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("ParseChannelID(%q): %v", tt.id, err)
			}
			if err != nil {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("error type %T, want *ValidationError", err)
				}
			}
		})
	}
}

func TestParseBusID(t *testing.T) {
	if _, err := ParseBusID("A1"); err != nil {
		t.Errorf("ParseBusID(A1): %v", err)
	}
	if _, err := ParseBusID(""); err == nil {
		t.Error("ParseBusID(\"\"): expected error")
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"", "Mic 1", "Guitar (DI)", "Bob's Bass", "A/B Mix", "take-2, comp."}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q): %v", name, err)
		}
	}
	invalid := []string{strings.Repeat("x", 201), "bad;name", "tab\tname", "semi<colon>"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q): expected error", name)
		}
	}
}
