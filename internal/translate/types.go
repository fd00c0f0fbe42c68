// Package translate converts the foreign chat-completions schema into the
// upstream conversation-state wire format. The translator is pure: no I/O,
// deterministic given the input plus fresh conversation ids.
package translate

import (
	"encoding/json"
	"strconv"
)

// Request is the foreign chat request as received on the public surface.
type Request struct {
	Model      string       `json:"model"`
	Messages   []Message    `json:"messages"`
	System     SystemPrompt `json:"system,omitempty"`
	Tools      []Tool       `json:"tools,omitempty"`
	ToolChoice *ToolChoice  `json:"tool_choice,omitempty"`
	Thinking   *Thinking    `json:"thinking,omitempty"`
	Stream     bool         `json:"stream,omitempty"`
	MaxTokens  int          `json:"max_tokens,omitempty"`
}

// Message is one foreign conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content accepts both the string shorthand and the typed block array.
type Content []Block

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{{Type: "text", Text: s}}
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// Block is one typed content block. Scalars coerce to text blocks; unknown
// types are carried and dropped during normalization.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ResultRaw json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	// Never trust block shapes from the wire: strings and numbers coerce to
	// text blocks.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = Block{Type: "text", Text: s}
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*b = Block{Type: "text", Text: strconv.FormatFloat(num, 'f', -1, 64)}
		return nil
	}
	type alias Block
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = Block(a)
	return nil
}

// SystemPrompt accepts a string or an array of text blocks.
type SystemPrompt string

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt(str)
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	text := ""
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += b.Text
		}
	}
	*s = SystemPrompt(text)
	return nil
}

// Tool is one foreign tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolChoice carries the foreign tool selection directive.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Thinking enables extended reasoning with a token budget.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}
