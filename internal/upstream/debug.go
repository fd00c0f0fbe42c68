package upstream

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	summaryDepthCap    = 6
	summaryArraySample = 3
)

// Summarize renders a redacted structural summary of a JSON body for error
// reports: string values are replaced by their lengths, arrays by a length
// plus a short sample, objects by their key set with values summarized
// recursively. Depth is capped so pathological nesting stays bounded.
func Summarize(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Sprintf("<unparseable body len=%d>", len(body))
	}
	out, err := json.Marshal(summarizeValue(v, 0))
	if err != nil {
		return "<summary unavailable>"
	}
	return string(out)
}

func summarizeValue(v any, depth int) any {
	if depth > summaryDepthCap {
		return "<depth capped>"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("<string len=%d>", len(val))
	case []any:
		sample := val
		if len(sample) > summaryArraySample {
			sample = sample[:summaryArraySample]
		}
		items := make([]any, 0, len(sample))
		for _, item := range sample {
			items = append(items, summarizeValue(item, depth+1))
		}
		return map[string]any{"length": len(val), "sample": items}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make(map[string]any, len(val))
		for _, k := range keys {
			fields[k] = summarizeValue(val[k], depth+1)
		}
		return map[string]any{"keys": keys, "fields": fields}
	default:
		return val
	}
}
