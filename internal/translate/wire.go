package translate

// Upstream wire types. Field declaration order matters: the upstream parser
// requires conversationState keys emitted in exactly this sequence, and
// encoding/json emits struct fields in declaration order.

// ConversationRequest is the upstream request envelope.
type ConversationRequest struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileARN        string            `json:"profileArn,omitempty"`
}

// Chat trigger types.
const (
	TriggerManual = "MANUAL"
	TriggerAuto   = "AUTO"
)

// ConversationState holds the history and the current message.
type ConversationState struct {
	AgentContinuationID string         `json:"agentContinuationId"`
	AgentTaskType       string         `json:"agentTaskType"`
	ChatTriggerType     string         `json:"chatTriggerType"`
	CurrentMessage      CurrentMessage `json:"currentMessage"`
	ConversationID      string         `json:"conversationId"`
	History             []HistoryEntry `json:"history"`
}

// CurrentMessage wraps the current user turn.
type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// UserInputMessage is a user turn, current or historical.
type UserInputMessage struct {
	Content                 string                   `json:"content"`
	ModelID                 string                   `json:"modelId,omitempty"`
	Origin                  string                   `json:"origin,omitempty"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// UserInputMessageContext carries tools and tool results for a user turn.
type UserInputMessageContext struct {
	Tools       []ToolEntry  `json:"tools,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// HistoryEntry is either a user or an assistant turn.
type HistoryEntry struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// AssistantResponseMessage is an assistant turn in history.
type AssistantResponseMessage struct {
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`
}

// ToolUse is an assistant tool invocation.
type ToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// ToolResult is a user-provided tool outcome.
type ToolResult struct {
	ToolUseID string           `json:"toolUseId"`
	Status    string           `json:"status"`
	Content   []ToolResultText `json:"content"`
}

// ToolResultText is one text fragment of a tool result.
type ToolResultText struct {
	Text string `json:"text"`
}

// ToolEntry wraps one tool specification.
type ToolEntry struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification describes one tool to the upstream.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema wraps the sanitized JSON schema.
type InputSchema struct {
	JSON any `json:"json"`
}
