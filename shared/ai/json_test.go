package ai

import (
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{"Plain object", `{"a":1}`, `{"a":1}`, false},
		{"Wrapped in prose", "Here you go:\n```json\n{\"a\":{\"b\":2}}\n```\nThanks", `{"a":{"b":2}}`, false},
		{"No object", "sorry, I cannot help", "", true},
		{"Reversed braces", "} nothing {", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.response)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractJSONObject() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractJSONObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		PrimaryFix string  `json:"primaryFix"`
		Confidence float64 `json:"confidence"`
	}

	if err := DecodeJSON("```json\n{\"primaryFix\": \"hook-weak\", \"confidence\": 0.8}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if out.PrimaryFix != "hook-weak" || out.Confidence != 0.8 {
		t.Errorf("DecodeJSON() = %+v", out)
	}
}

func TestDecodeJSONSanitizesQuotes(t *testing.T) {
	var out struct {
		Rationale string `json:"rationale"`
		Title     string `json:"proposedTitle"`
	}

	malformed := "{\n  \"rationale\": \"The \"hook\" is too slow\",\n  \"proposedTitle\": \"Fast title\"\n}"
	if err := DecodeJSON(malformed, &out); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if out.Rationale != `The "hook" is too slow` {
		t.Errorf("Rationale = %q", out.Rationale)
	}
	if out.Title != "Fast title" {
		t.Errorf("Title = %q", out.Title)
	}
}

func TestDecodeJSONFailure(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON("{ not json at all }", &out); err == nil {
		t.Error("expected error for unparseable JSON")
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("abcdef", 3); got != "abc..." {
		t.Errorf("truncateString() = %q", got)
	}
	if got := truncateString("abc", 10); got != "abc" {
		t.Errorf("truncateString() = %q", got)
	}
}
