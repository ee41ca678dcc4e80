package extractor

import (
	"strings"
	"testing"
)

func TestFromSettings(t *testing.T) {
	rules, err := FromSettings(map[string]string{
		"url":                "http://example",
		"extract":            "$.id",
		"extract.user":       "user.name",
		"extract_regex.code": `code=(\d+)`,
		"extract.blank":      " ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	names := []string{rules[0].Name, rules[1].Name, rules[2].Name}
	if strings.Join(names, ",") != "code,extract,user" {
		t.Errorf("expected sorted names, got %v", names)
	}
	if rules[1].JSONPath != "id" {
		t.Errorf("expected $. prefix stripped, got %q", rules[1].JSONPath)
	}
	if rules[0].Regex == nil {
		t.Error("expected compiled regex")
	}
}

func TestFromSettingsInvalidRegex(t *testing.T) {
	_, err := FromSettings(map[string]string{"extract_regex.bad": "[invalid("})
	if err == nil || !strings.Contains(err.Error(), "extract_regex.bad") {
		t.Fatalf("expected error naming the key, got %v", err)
	}
}

func TestApply(t *testing.T) {
	body := []byte(`{"id": 7, "user": {"name": "alice"}, "items": [{"id": 1}], "note": "code=42"}`)
	rules, err := FromSettings(map[string]string{
		"extract.id":         "id",
		"extract.user":       "$.user.name",
		"extract.first":      "items.0.id",
		"extract_regex.code": `code=(\d+)`,
		"extract_regex.word": `alice`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Apply(body, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := map[string]any{
		"id":    float64(7),
		"user":  "alice",
		"first": float64(1),
		"code":  "42",
		"word":  "alice",
	}
	for name, want := range tests {
		if got[name] != want {
			t.Errorf("%s: expected %v, got %v", name, want, got[name])
		}
	}
}

func TestApplyMissing(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
		want     string
	}{
		{"json path", map[string]string{"extract": "missing"}, `extract path "missing" not found`},
		{"regex", map[string]string{"extract_regex.x": `x=(\d+)`}, `extract pattern "x=(\\d+)" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := FromSettings(tt.settings)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, err = Apply([]byte(`{"id": 1}`), rules)
			if err == nil || err.Error() != tt.want {
				t.Errorf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

func TestApplyNoRules(t *testing.T) {
	got, err := Apply([]byte("anything"), nil)
	if err != nil || got != nil {
		t.Errorf("expected nil result, got %v, %v", got, err)
	}
}
