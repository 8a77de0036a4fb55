package validation

import (
	"testing"
)

func TestValidateTokenName(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"operator", "add", false},
		{"input variable", "x1", false},
		{"underscore", "protected_div", false},
		{"leading underscore", "_c", false},
		{"single char", "x", false},
		{"max length", strings32(), false},

		{"empty", "", true},
		{"leading digit", "1x", true},
		{"space", "ad d", true},
		{"punctuation", "add()", true},
		{"too long", strings32() + "a", true},
		{"newline", "add\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenName(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenName(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTokenNames(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []string
		wantErr bool
	}{
		{"all valid", []string{"add", "sin", "x1"}, false},
		{"one invalid", []string{"add", "s in", "x1"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenNames(tt.tokens)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenNames(%v) error = %v, wantErr %v", tt.tokens, err, tt.wantErr)
			}
		})
	}
}

func strings32() string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
