package translate

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyMessages means the request carried no usable conversation turns.
var ErrEmptyMessages = errors.New("empty messages")

const (
	maxMessages       = 200
	maxCurrentContent = 12000

	defaultThinkingBudget = 10000

	continueContent = "continue"
	systemAck       = "I will follow these instructions."
	alternationAck  = "OK"

	agentTaskType = "vibe"
	originEditor  = "AI_EDITOR"
)

// Result is the translator's output: the upstream body plus the tool rename
// map needed to map response tool-use ids back to foreign names.
type Result struct {
	Body      *ConversationRequest
	ToolNames *NameMap
}

// Translate converts the foreign request into the upstream wire form using
// the resolved internal model id and the selected credential's profile ARN.
func Translate(req Request, internalID, profileARN string) (*Result, error) {
	msgs := filterMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, ErrEmptyMessages
	}

	toolEntries, nameMap := BuildTools(req.Tools)

	// Locate the current turn: the contiguous trailing run of user messages.
	// An assistant tail means the caller wants a continuation.
	split := len(msgs)
	for split > 0 && msgs[split-1].Role == "user" {
		split--
	}
	currentTurn := msgs[split:]
	historyMsgs := msgs[:split]

	history := buildHistory(historyMsgs, nameMap)
	if prefix := systemPair(string(req.System), req.Thinking); prefix != nil {
		history = append(prefix, history...)
	}

	content, toolResults := flattenUserRun(currentTurn)
	if content == "" {
		content = continueContent
	}
	content = Truncate(content, maxCurrentContent)

	current := UserInputMessage{
		Content: content,
		ModelID: internalID,
		Origin:  originEditor,
	}
	if len(toolEntries) > 0 || len(toolResults) > 0 {
		current.UserInputMessageContext = &UserInputMessageContext{
			Tools:       toolEntries,
			ToolResults: toolResults,
		}
	}

	trigger := TriggerManual
	if len(toolEntries) > 0 && req.ToolChoice != nil {
		// Only an explicit forcing directive flips to AUTO; "auto" stays
		// MANUAL.
		if req.ToolChoice.Type == "any" || req.ToolChoice.Type == "tool" {
			trigger = TriggerAuto
		}
	}

	body := &ConversationRequest{
		ConversationState: ConversationState{
			AgentContinuationID: uuid.NewString(),
			AgentTaskType:       agentTaskType,
			ChatTriggerType:     trigger,
			CurrentMessage:      CurrentMessage{UserInputMessage: current},
			ConversationID:      uuid.NewString(),
			History:             history,
		},
		ProfileARN: profileARN,
	}
	return &Result{Body: body, ToolNames: nameMap}, nil
}

// filterMessages drops non-conversation roles and caps at the last 200.
func filterMessages(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if m.Role == "user" || m.Role == "assistant" {
			out = append(out, m)
		}
	}
	if len(out) > maxMessages {
		out = out[len(out)-maxMessages:]
	}
	return out
}

// systemPair renders the system text (with the thinking directive prefix when
// thinking is enabled) as the leading history pair.
func systemPair(system string, thinking *Thinking) []HistoryEntry {
	prefix := ""
	if thinking != nil && thinking.Type == "enabled" {
		budget := thinking.BudgetTokens
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		prefix = "<thinking_mode>enabled</thinking_mode><max_thinking_length>" +
			strconv.Itoa(budget) + "</max_thinking_length>"
	}
	content := prefix + system
	if content == "" {
		return nil
	}
	return []HistoryEntry{
		{UserInputMessage: &UserInputMessage{Content: content}},
		{AssistantResponseMessage: &AssistantResponseMessage{Content: systemAck}},
	}
}

// buildHistory converts prior turns into alternating history entries.
// Consecutive user messages merge into one entry; a terminal user entry gets
// an artificial assistant acknowledgement to preserve alternation.
func buildHistory(msgs []Message, names *NameMap) []HistoryEntry {
	var history []HistoryEntry
	i := 0
	for i < len(msgs) {
		if msgs[i].Role == "user" {
			j := i
			for j < len(msgs) && msgs[j].Role == "user" {
				j++
			}
			text, results := flattenUserRun(msgs[i:j])
			entry := &UserInputMessage{Content: text}
			if len(results) > 0 {
				entry.UserInputMessageContext = &UserInputMessageContext{ToolResults: results}
			}
			history = append(history, HistoryEntry{UserInputMessage: entry})
			i = j
			continue
		}
		history = append(history, HistoryEntry{
			AssistantResponseMessage: assistantEntry(msgs[i], names),
		})
		i++
	}
	if n := len(history); n > 0 && history[n-1].UserInputMessage != nil {
		history = append(history, HistoryEntry{
			AssistantResponseMessage: &AssistantResponseMessage{Content: alternationAck},
		})
	}
	return history
}

// flattenUserRun joins the text parts of a run of user messages with
// newlines and accumulates their tool results.
func flattenUserRun(msgs []Message) (string, []ToolResult) {
	var parts []string
	var results []ToolResult
	for _, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					parts = append(parts, b.Text)
				}
			case "tool_result":
				results = append(results, toolResultFromBlock(b))
			}
		}
	}
	return strings.Join(parts, "\n"), results
}

// assistantEntry renders an assistant message: accumulated thinking wraps the
// visible text, tool_use blocks become toolUses, redacted thinking is
// dropped.
func assistantEntry(m Message, names *NameMap) *AssistantResponseMessage {
	var thinking, text strings.Builder
	var uses []ToolUse
	for _, b := range m.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "thinking":
			thinking.WriteString(b.Thinking)
		case "tool_use":
			uses = append(uses, ToolUse{
				ToolUseID: sanitizeToolUseID(b.ID),
				Name:      upstreamToolName(b.Name, names),
				Input:     normalizeToolInput(b.Input),
			})
		}
	}
	content := text.String()
	if thinking.Len() > 0 {
		content = "<thinking>" + thinking.String() + "</thinking>" + content
	}
	return &AssistantResponseMessage{Content: content, ToolUses: uses}
}

func upstreamToolName(name string, names *NameMap) string {
	if mapped, ok := names.Upstream(name); ok {
		return mapped
	}
	return sanitizeToolName(name)
}

var invalidToolUseID = regexp.MustCompile(`[^\w\-:.]`)

func sanitizeToolUseID(id string) string {
	id = invalidToolUseID.ReplaceAllString(id, "_")
	if id == "" {
		id = "tool-use"
	}
	return Truncate(id, 128)
}

// normalizeToolInput coerces a tool_use input into an object, parsing string
// payloads and falling back to {} on anything unusable.
func normalizeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
			return obj
		}
	}
	return map[string]any{}
}

// toolResultFromBlock maps a tool_result block; empty result content becomes
// the literal "OK".
func toolResultFromBlock(b Block) ToolResult {
	status := "success"
	if b.IsError {
		status = "error"
	}
	texts := toolResultTexts(b.ResultRaw)
	if len(texts) == 0 {
		texts = []ToolResultText{{Text: alternationAck}}
	}
	return ToolResult{
		ToolUseID: sanitizeToolUseID(b.ToolUseID),
		Status:    status,
		Content:   texts,
	}
}

func toolResultTexts(raw json.RawMessage) []ToolResultText {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []ToolResultText{{Text: s}}
	}
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	var out []ToolResultText
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			out = append(out, ToolResultText{Text: b.Text})
		}
	}
	return out
}
