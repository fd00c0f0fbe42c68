package translate

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"read_file", "read_file"},
		{"read-file", "read_file"},
		{"read file!", "read_file"},
		{"a--b__c", "a_b_c"},
		{"__edge__", "edge"},
		{"", "tool"},
		{"!!!", "tool"},
		{"3d_lookup", "t_3d_lookup"},
		{"日本語", "tool"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitizeToolName(tt.in); got != tt.want {
				t.Errorf("sanitizeToolName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsWebSearchVariant(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"web_search", true},
		{"WebSearch", true},
		{"web-search", true},
		{"web search", true},
		{"websearch2", false},
		{"search_web", false},
	}
	for _, tt := range tests {
		if got := isWebSearchVariant(tt.name); got != tt.want {
			t.Errorf("isWebSearchVariant(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBuildToolsRenamesAndDedupes(t *testing.T) {
	tools := []Tool{
		{Name: "read-file"},
		{Name: "read_file"},
		{Name: "read file"},
		{Name: "web_search"},
	}
	entries, names := BuildTools(tools)

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 (web_search dropped)", len(entries))
	}
	got := []string{
		entries[0].ToolSpecification.Name,
		entries[1].ToolSpecification.Name,
		entries[2].ToolSpecification.Name,
	}
	want := []string{"read_file", "read_file_2", "read_file_3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d name = %q, want %q", i, got[i], want[i])
		}
	}

	// Round trip: every foreign name resolves to its unique upstream name and
	// back.
	up, ok := names.Upstream("read_file")
	if !ok || up != "read_file_2" {
		t.Errorf("Upstream(read_file) = %q, %v", up, ok)
	}
	foreign, ok := names.Foreign("read_file_2")
	if !ok || foreign != "read_file" {
		t.Errorf("Foreign(read_file_2) = %q, %v", foreign, ok)
	}
	if _, ok := names.Upstream("web_search"); ok {
		t.Error("dropped web_search must not be in the name map")
	}
}

func TestBuildToolsTruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", toolDescriptionLimit+100)
	entries, _ := BuildTools([]Tool{{Name: "t", Description: long}})
	if got := len(entries[0].ToolSpecification.Description); got != toolDescriptionLimit {
		t.Errorf("description length = %d, want %d", got, toolDescriptionLimit)
	}

	// The byte limit lands mid-rune for a 3-byte character; the cut must stay
	// on a boundary instead of emitting broken UTF-8.
	wide := strings.Repeat("界", toolDescriptionLimit/3+10)
	entries, _ = BuildTools([]Tool{{Name: "t", Description: wide}})
	desc := entries[0].ToolSpecification.Description
	if !utf8.ValidString(desc) {
		t.Error("truncated description is not valid UTF-8")
	}
	if len(desc) > toolDescriptionLimit {
		t.Errorf("description length = %d, want at most %d", len(desc), toolDescriptionLimit)
	}
}

func TestTruncateRuneBoundary(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"abcdef", 4, "abcd"},
		{"abc", 4, "abc"},
		{"aé", 2, "a"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.limit)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.limit)
		}
	}
}

func TestBuildToolsEmpty(t *testing.T) {
	entries, names := BuildTools(nil)
	if entries != nil || names != nil {
		t.Errorf("BuildTools(nil) = %v, %v, want nil, nil", entries, names)
	}
	entries, names = BuildTools([]Tool{{Name: "web_search"}})
	if entries != nil {
		t.Errorf("all-dropped tool list produced entries: %v", entries)
	}
	if names == nil {
		t.Error("name map should exist even when every tool is dropped")
	}
}

func TestSanitizeSchemaDropsMetaKeys(t *testing.T) {
	raw := json.RawMessage(`{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"$defs": {"x": {"type": "string"}},
		"type": "object",
		"properties": {"name": {"type": "string", "examples": ["a"]}},
		"required": ["name"]
	}`)
	out, ok := SanitizeSchema(raw).(map[string]any)
	if !ok {
		t.Fatal("sanitized schema is not an object")
	}
	if _, present := out["$schema"]; present {
		t.Error("$schema not dropped")
	}
	if _, present := out["$defs"]; present {
		t.Error("$defs not dropped")
	}
	props := out["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	if _, present := name["examples"]; present {
		t.Error("nested examples not dropped")
	}
	if out["type"] != "object" {
		t.Errorf("type = %v", out["type"])
	}
}

func TestSanitizeSchemaDepthLimit(t *testing.T) {
	// Nest properties past the depth limit; the deep leaf must vanish.
	inner := `{"type": "string"}`
	for i := 0; i < 10; i++ {
		inner = `{"type": "object", "properties": {"p": ` + inner + `}}`
	}
	out := SanitizeSchema(json.RawMessage(inner))
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), `"p"`); n >= 10 {
		t.Errorf("depth not capped: %d nested levels survived", n)
	}
}

func TestSanitizeSchemaArrayLimit(t *testing.T) {
	items := make([]string, schemaArrayLimit+10)
	for i := range items {
		items[i] = `"v"`
	}
	raw := `{"enum": [` + strings.Join(items, ",") + `]}`
	out := SanitizeSchema(json.RawMessage(raw)).(map[string]any)
	if got := len(out["enum"].([]any)); got != schemaArrayLimit {
		t.Errorf("enum length = %d, want %d", got, schemaArrayLimit)
	}
}

func TestSanitizeSchemaObjectCapIsDeterministic(t *testing.T) {
	props := make(map[string]any, schemaObjectLimit+24)
	for i := 0; i < schemaObjectLimit+24; i++ {
		props[fmt.Sprintf("k%03d", i)] = map[string]any{"type": "string"}
	}
	raw, _ := json.Marshal(map[string]any{"type": "object", "properties": props})

	out := SanitizeSchema(raw).(map[string]any)
	kept := out["properties"].(map[string]any)
	if len(kept) != schemaObjectLimit {
		t.Fatalf("kept %d entries, want %d", len(kept), schemaObjectLimit)
	}
	// The cap keeps the first entries in key order, not a map-iteration sample.
	for i := 0; i < schemaObjectLimit; i++ {
		if _, ok := kept[fmt.Sprintf("k%03d", i)]; !ok {
			t.Fatalf("k%03d missing from the capped set", i)
		}
	}
	if _, ok := kept[fmt.Sprintf("k%03d", schemaObjectLimit)]; ok {
		t.Error("entry past the cap survived")
	}
}

func TestSanitizeSchemaStringLimits(t *testing.T) {
	longMeta := strings.Repeat("d", schemaMetaStrLimit+50)
	longVal := strings.Repeat("v", schemaStrLimit+50)
	raw, _ := json.Marshal(map[string]any{
		"type":        "object",
		"description": longMeta,
		"pattern":     longVal,
	})
	out := SanitizeSchema(raw).(map[string]any)
	if got := len(out["description"].(string)); got != schemaMetaStrLimit {
		t.Errorf("description length = %d, want %d", got, schemaMetaStrLimit)
	}
	if got := len(out["pattern"].(string)); got != schemaStrLimit {
		t.Errorf("pattern length = %d, want %d", got, schemaStrLimit)
	}
}

func TestSanitizeSchemaFallsBackToEmptyObject(t *testing.T) {
	for _, raw := range []string{``, `not json`, `"just a string"`, `{}`, `[]`} {
		out, ok := SanitizeSchema(json.RawMessage(raw)).(map[string]any)
		if !ok {
			t.Fatalf("SanitizeSchema(%q) is not an object", raw)
		}
		if out["type"] != "object" {
			t.Errorf("SanitizeSchema(%q) = %v, want empty object schema", raw, out)
		}
	}
}
