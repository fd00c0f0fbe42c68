package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nextlevelbuilder/kirogate/internal/translate"
)

// ErrUpstreamRejected means the upstream kept rejecting the request as
// improperly formed after every fallback transformation was tried.
var ErrUpstreamRejected = errors.New("upstream rejected request after all fallbacks")

// Mode names one fallback transformation of the request body.
type Mode string

const (
	ModePrimary        Mode = "primary"
	ModeCompactTools   Mode = "compact-tools"
	ModeNoTools        Mode = "no-tools"
	ModeTrimHistory    Mode = "trim-history"
	ModeMinimalHistory Mode = "minimal-history"
	ModeSingleTurn     Mode = "single-turn"
)

const (
	compactToolLimit     = 24
	compactToolDescLimit = 256
	trimHistoryLimit     = 24
	minimalHistoryLimit  = 8
)

// Chain returns the fallback sequence for a compat mode. Unknown modes get
// the balanced chain.
func Chain(compatMode string) []Mode {
	switch compatMode {
	case "strict":
		return []Mode{ModePrimary, ModeCompactTools}
	case "relaxed":
		return []Mode{ModePrimary, ModeCompactTools, ModeNoTools,
			ModeTrimHistory, ModeMinimalHistory, ModeSingleTurn}
	default:
		return []Mode{ModePrimary, ModeCompactTools, ModeNoTools, ModeTrimHistory}
	}
}

// Apply returns a transformed deep copy of the body. Transformations are
// idempotent: applying the same mode twice yields an equal body.
func Apply(mode Mode, body *translate.ConversationRequest) *translate.ConversationRequest {
	out := deepCopy(body)
	state := &out.ConversationState
	current := &state.CurrentMessage.UserInputMessage

	switch mode {
	case ModePrimary:
		// unchanged

	case ModeCompactTools:
		if ctx := current.UserInputMessageContext; ctx != nil && len(ctx.Tools) > 0 {
			tools := ctx.Tools
			if len(tools) > compactToolLimit {
				tools = tools[:compactToolLimit]
			}
			for i := range tools {
				spec := &tools[i].ToolSpecification
				spec.InputSchema = translate.InputSchema{JSON: translate.EmptyObjectSchema()}
				spec.Description = translate.Truncate(spec.Description, compactToolDescLimit)
			}
			ctx.Tools = tools
		}

	case ModeNoTools:
		dropTools(state)

	case ModeTrimHistory:
		dropTools(state)
		for i := range state.History {
			if a := state.History[i].AssistantResponseMessage; a != nil {
				a.ToolUses = nil
			}
		}
		state.History = tail(state.History, trimHistoryLimit)

	case ModeMinimalHistory:
		dropTools(state)
		for i := range state.History {
			if u := state.History[i].UserInputMessage; u != nil && u.UserInputMessageContext != nil {
				u.UserInputMessageContext.ToolResults = nil
				if len(u.UserInputMessageContext.Tools) == 0 {
					u.UserInputMessageContext = nil
				}
			}
		}
		state.History = tail(state.History, minimalHistoryLimit)

	case ModeSingleTurn:
		content := latestUserText(out)
		state.History = nil
		state.CurrentMessage.UserInputMessage = translate.UserInputMessage{
			Content: content,
			ModelID: current.ModelID,
			Origin:  current.Origin,
		}
		state.ChatTriggerType = translate.TriggerManual
	}

	return out
}

// dropTools removes tool definitions from the current turn and from history
// entries. AUTO is only valid with tools present, so the trigger resets.
func dropTools(state *translate.ConversationState) {
	current := &state.CurrentMessage.UserInputMessage
	if ctx := current.UserInputMessageContext; ctx != nil {
		ctx.Tools = nil
		if len(ctx.ToolResults) == 0 {
			current.UserInputMessageContext = nil
		}
	}
	for i := range state.History {
		if u := state.History[i].UserInputMessage; u != nil && u.UserInputMessageContext != nil {
			u.UserInputMessageContext.Tools = nil
			if len(u.UserInputMessageContext.ToolResults) == 0 {
				u.UserInputMessageContext = nil
			}
		}
	}
	state.ChatTriggerType = translate.TriggerManual
}

func tail(history []translate.HistoryEntry, n int) []translate.HistoryEntry {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// latestUserText picks the most recent meaningful user text: the current
// message if it is not the synthetic continuation, else the newest history
// user entry with real text, else "continue".
func latestUserText(body *translate.ConversationRequest) string {
	current := body.ConversationState.CurrentMessage.UserInputMessage.Content
	if current != "" && current != "continue" {
		return current
	}
	history := body.ConversationState.History
	for i := len(history) - 1; i >= 0; i-- {
		if u := history[i].UserInputMessage; u != nil {
			if u.Content != "" && u.Content != "continue" {
				return u.Content
			}
		}
	}
	return "continue"
}

func deepCopy(body *translate.ConversationRequest) *translate.ConversationRequest {
	data, err := json.Marshal(body)
	if err != nil {
		clone := *body
		return &clone
	}
	var out translate.ConversationRequest
	if err := json.Unmarshal(data, &out); err != nil {
		clone := *body
		return &clone
	}
	return &out
}

// RejectedError carries the exhaustion outcome: the last upstream status and
// a redacted summary of the last attempted body.
type RejectedError struct {
	StatusCode int
	Attempts   int
	LastMode   Mode
	Summary    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %d attempts, last mode %s, status %d",
		ErrUpstreamRejected, e.Attempts, e.LastMode, e.StatusCode)
}

func (e *RejectedError) Unwrap() error { return ErrUpstreamRejected }

// Executor runs one upstream call through the fallback chain.
type Executor struct {
	client *Client
	chain  []Mode
}

// NewExecutor wraps the client with the chain for the configured compat mode.
func NewExecutor(client *Client, compatMode string) *Executor {
	return &Executor{client: client, chain: Chain(compatMode)}
}

// Do tries each fallback mode in order until the upstream accepts or an
// error outside the improperly-formed class occurs. Only malformed-class 400s
// advance the chain; everything else surfaces immediately.
func (e *Executor) Do(ctx context.Context, info CallInfo, body *translate.ConversationRequest) (io.ReadCloser, Mode, error) {
	var lastErr *APIError
	var lastBody []byte
	var lastMode Mode
	attempts := 0

	for _, mode := range e.chain {
		transformed := Apply(mode, body)
		payload, err := json.Marshal(transformed)
		if err != nil {
			return nil, mode, fmt.Errorf("marshal upstream body: %w", err)
		}

		attempts++
		stream, err := e.client.Send(ctx, info, payload)
		if err == nil {
			if mode != ModePrimary {
				slog.Info("upstream accepted degraded request", "mode", mode, "attempts", attempts)
			}
			return stream, mode, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsMalformed() {
			slog.Debug("upstream rejected body as malformed, degrading",
				"mode", mode, "status", apiErr.StatusCode)
			lastErr, lastBody, lastMode = apiErr, payload, mode
			continue
		}
		return nil, mode, err
	}

	return nil, lastMode, &RejectedError{
		StatusCode: lastErr.StatusCode,
		Attempts:   attempts,
		LastMode:   lastMode,
		Summary:    Summarize(lastBody),
	}
}
