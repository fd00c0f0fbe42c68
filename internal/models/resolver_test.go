package models

import (
	"errors"
	"testing"
)

func testRules() []Mapping {
	return []Mapping{
		{ExternalPattern: "claude-sonnet-4-5-20250929", InternalID: "SONNET_4_5", MatchType: MatchExact, Priority: 100, Enabled: true},
		{ExternalPattern: `claude-sonnet-4\.5.*`, InternalID: "SONNET_4_5_RE", MatchType: MatchRegex, Priority: 50, Enabled: true},
		{ExternalPattern: "sonnet", InternalID: "SONNET_FAMILY", MatchType: MatchContains, Priority: 10, Enabled: true},
		{ExternalPattern: "haiku", InternalID: "HAIKU_FAMILY", MatchType: MatchContains, Priority: 10, Enabled: true},
		{ExternalPattern: "opus", InternalID: "OPUS_DISABLED", MatchType: MatchContains, Priority: 10, Enabled: false},
	}
}

func TestResolvePriorityOrder(t *testing.T) {
	r := NewResolver()
	if err := r.Load(testRules()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		model string
		want  string
	}{
		// Exact wins over the regex and contains rules that also match.
		{"claude-sonnet-4-5-20250929", "SONNET_4_5"},
		// Regex outranks the family bucket.
		{"claude-sonnet-4.5-preview", "SONNET_4_5_RE"},
		// Substring match is case-insensitive.
		{"my-Sonnet-build", "SONNET_FAMILY"},
		{"claude-haiku-4-5", "HAIKU_FAMILY"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := r.Resolve(tt.model)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.model, got, tt.want)
			}
		})
	}
}

func TestResolveUnsupported(t *testing.T) {
	r := NewResolver()
	if err := r.Load(testRules()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("gpt-4o"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("err = %v, want ErrUnsupportedModel", err)
	}
	// A disabled rule never matches even when it is the only candidate.
	if _, err := r.Resolve("claude-opus-4"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("disabled rule matched: %v", err)
	}
}

func TestResolveRegexIsAnchored(t *testing.T) {
	r := NewResolver()
	rules := []Mapping{
		{ExternalPattern: "claude-3", InternalID: "C3", MatchType: MatchRegex, Priority: 1, Enabled: true},
	}
	if err := r.Load(rules); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("claude-3-7-sonnet"); err == nil {
		t.Error("unanchored substring matched a whole-string regex rule")
	}
	if got, err := r.Resolve("claude-3"); err != nil || got != "C3" {
		t.Errorf("Resolve(claude-3) = %q, %v", got, err)
	}
}

func TestLoadRejectsBadRegexAtomically(t *testing.T) {
	r := NewResolver()
	if err := r.Load(testRules()); err != nil {
		t.Fatal(err)
	}

	bad := []Mapping{
		{ExternalPattern: "valid", InternalID: "V", MatchType: MatchContains, Priority: 1, Enabled: true},
		{ExternalPattern: "(unclosed", InternalID: "X", MatchType: MatchRegex, Priority: 1, Enabled: true},
	}
	if err := r.Load(bad); err == nil {
		t.Fatal("expected compile error")
	}
	// The previous rule set stays live.
	if got, err := r.Resolve("claude-sonnet-4-5-20250929"); err != nil || got != "SONNET_4_5" {
		t.Errorf("previous rules lost after failed load: %q, %v", got, err)
	}
}

func TestMappingsEvaluationOrder(t *testing.T) {
	r := NewResolver()
	if err := r.Load(testRules()); err != nil {
		t.Fatal(err)
	}
	out := r.Mappings()
	if len(out) != 5 {
		t.Fatalf("got %d mappings, want 5", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Priority > out[i-1].Priority {
			t.Fatalf("mappings not sorted by priority: %v", out)
		}
	}
	// Equal priorities keep their load order.
	if out[2].InternalID != "SONNET_FAMILY" || out[3].InternalID != "HAIKU_FAMILY" {
		t.Errorf("tie order not stable: %q, %q", out[2].InternalID, out[3].InternalID)
	}
}

func TestEmptyResolver(t *testing.T) {
	r := NewResolver()
	if _, err := r.Resolve("anything"); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("err = %v, want ErrUnsupportedModel", err)
	}
}
