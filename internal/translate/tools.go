package translate

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	toolDescriptionLimit = 2000

	schemaDepthLimit   = 6
	schemaArrayLimit   = 32
	schemaObjectLimit  = 96
	schemaMetaStrLimit = 512
	schemaStrLimit     = 1024
)

// NameMap is the bidirectional rename map between foreign tool names and the
// sanitized upstream names, retained so tool-use ids in the response can be
// mapped back.
type NameMap struct {
	toUpstream map[string]string
	toForeign  map[string]string
}

// Upstream returns the sanitized name for a foreign tool name.
func (m *NameMap) Upstream(foreign string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.toUpstream[foreign]
	return v, ok
}

// Foreign returns the original name for a sanitized upstream name.
func (m *NameMap) Foreign(upstream string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.toForeign[upstream]
	return v, ok
}

func (m *NameMap) add(foreign, upstream string) {
	m.toUpstream[foreign] = upstream
	m.toForeign[upstream] = foreign
}

var (
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	repeatUnderscore = regexp.MustCompile(`_{2,}`)
	nonAlnum         = regexp.MustCompile(`[^a-z0-9]`)
)

// isWebSearchVariant recognizes web-search tool names, which the upstream
// explicitly does not support.
func isWebSearchVariant(name string) bool {
	return nonAlnum.ReplaceAllString(strings.ToLower(name), "") == "websearch"
}

// sanitizeToolName maps a foreign name onto [A-Za-z0-9_]+: invalid runs
// become underscores, repeats collapse, edges are trimmed, and a leading
// digit gets a t_ prefix.
func sanitizeToolName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")
	s = repeatUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "tool"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "t_" + s
	}
	return s
}

// BuildTools sanitizes the foreign tool definitions and returns the upstream
// entries plus the rename map. Names are unique within one request:
// duplicates after sanitization get _2, _3, … suffixes.
func BuildTools(tools []Tool) ([]ToolEntry, *NameMap) {
	if len(tools) == 0 {
		return nil, nil
	}
	nameMap := &NameMap{
		toUpstream: make(map[string]string),
		toForeign:  make(map[string]string),
	}
	taken := make(map[string]bool)
	entries := make([]ToolEntry, 0, len(tools))

	for _, tool := range tools {
		if isWebSearchVariant(tool.Name) {
			continue
		}
		name := sanitizeToolName(tool.Name)
		if taken[name] {
			for i := 2; ; i++ {
				cand := name + "_" + strconv.Itoa(i)
				if !taken[cand] {
					name = cand
					break
				}
			}
		}
		taken[name] = true
		nameMap.add(tool.Name, name)

		entries = append(entries, ToolEntry{
			ToolSpecification: ToolSpecification{
				Name:        name,
				Description: Truncate(tool.Description, toolDescriptionLimit),
				InputSchema: InputSchema{JSON: SanitizeSchema(tool.InputSchema)},
			},
		})
	}
	if len(entries) == 0 {
		return nil, nameMap
	}
	return entries, nameMap
}

// EmptyObjectSchema is the substitute for schemas that sanitize to nothing.
func EmptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

var droppedSchemaKeys = map[string]bool{
	"$schema":     true,
	"$id":         true,
	"$defs":       true,
	"definitions": true,
	"examples":    true,
	"example":     true,
	"deprecated":  true,
	"readOnly":    true,
	"writeOnly":   true,
}

// SanitizeSchema normalizes a free-form input_schema in a single recursive
// pass, applying the depth and breadth limits. An empty or unparseable schema
// becomes the bare object schema.
func SanitizeSchema(raw json.RawMessage) any {
	if len(raw) == 0 {
		return EmptyObjectSchema()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return EmptyObjectSchema()
	}
	cleaned := sanitizeValue(v, 0, "")
	obj, ok := cleaned.(map[string]any)
	if !ok || len(obj) == 0 {
		return EmptyObjectSchema()
	}
	return obj
}

func sanitizeValue(v any, depth int, key string) any {
	if depth > schemaDepthLimit {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		// Sorted key order keeps the surviving subset stable when the entry
		// cap kicks in.
		keys := make([]string, 0, len(val))
		for k := range val {
			if !droppedSchemaKeys[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		n := 0
		for _, k := range keys {
			if n >= schemaObjectLimit {
				break
			}
			cleaned := sanitizeValue(val[k], depth+1, k)
			if cleaned == nil {
				continue
			}
			out[k] = cleaned
			n++
		}
		return out
	case []any:
		limit := len(val)
		if limit > schemaArrayLimit {
			limit = schemaArrayLimit
		}
		out := make([]any, 0, limit)
		for _, child := range val[:limit] {
			if cleaned := sanitizeValue(child, depth+1, ""); cleaned != nil {
				out = append(out, cleaned)
			}
		}
		return out
	case string:
		if key == "description" || key == "title" {
			return Truncate(val, schemaMetaStrLimit)
		}
		return Truncate(val, schemaStrLimit)
	default:
		return val
	}
}

// Truncate cuts at the byte limit, backing up so a multi-byte rune is never
// split.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
