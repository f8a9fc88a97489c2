package adapter

import (
	"encoding/json"
	"time"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/model"
)

// claudeEnvelope is the family-native NDJSON shape this adapter expects on
// stdout: a loose superset of {type, subtype, session_id, message, error}
// that covers init/assistant/user/result/error events.
type claudeEnvelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Cwd       string          `json:"cwd,omitempty"`
	Message   *claudeMessage  `json:"message,omitempty"`
	Error     *claudeError    `json:"error,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
}

type claudeMessage struct {
	ID      string               `json:"id"`
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	Signature string         `json:"signature,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewClaude builds the Claude-like family's NDJSON adapter: one JSON object
// per user turn on stdin, one NDJSON event per line on stdout.
func NewClaude(cmd config.AgentCommand) Adapter {
	return &NDJSONAdapter{
		Command: func(opts StartOptions) (string, []string) {
			args := append([]string{}, cmd.Args...)
			if opts.ResumeSessionID != "" {
				args = append(args, "--resume", opts.ResumeSessionID)
			}
			if opts.Model != "" {
				args = append(args, "--model", opts.Model)
			}
			return cmd.Command, args
		},
		EncodeInput: func(in UserInput) ([]byte, error) {
			if in.Answer != nil {
				return json.Marshal(map[string]any{
					"type":     "tool_response",
					"id":       in.RequestID,
					"response": in.Answer,
				})
			}
			return json.Marshal(map[string]any{"type": "user", "text": in.Text})
		},
		Translate: translateClaudeLine,
	}
}

func translateClaudeLine(line RawLine, pendingID string) []model.StreamFrame {
	env, ok := decodeLine[claudeEnvelope](line)
	if !ok {
		return nil
	}

	switch env.Type {
	case "system":
		if env.Subtype == "init" {
			sid := env.SessionID
			if sid == "" {
				sid = pendingID
			}
			frame := model.StreamFrame{Init: &model.InitTrigger{SessionID: sid, Cwd: env.Cwd}}
			if env.SessionID != "" && env.SessionID != pendingID {
				frame.SessionIDChanged = &model.SessionIDChangedTrigger{OldID: pendingID, NewID: env.SessionID}
			}
			return []model.StreamFrame{frame}
		}
		if env.Subtype == "input_request" {
			var input map[string]any
			_ = json.Unmarshal(env.Input, &input)
			msg := model.Message{
				Type:      model.MessageSystem,
				SessionID: env.SessionID,
				CreatedAt: time.Now(),
				Extra: map[string]any{
					"subtype":  "input_request",
					"toolName": env.ToolName,
					"input":    input,
					"prompt":   env.Prompt,
				},
			}
			return []model.StreamFrame{{Message: &msg}}
		}
		return nil

	case "result":
		return []model.StreamFrame{{Result: &model.ResultTrigger{SessionID: env.SessionID}}}

	case "error":
		errMsg := ""
		if env.Error != nil {
			errMsg = env.Error.Message
		}
		return []model.StreamFrame{{Error: &model.ErrorTrigger{SessionID: env.SessionID, Err: newFamilyError(errMsg)}}}

	case "assistant", "user", "tool_result":
		if env.Message == nil {
			return nil
		}
		msg := model.Message{
			ID:        env.Message.ID,
			SessionID: env.SessionID,
			Type:      model.MessageType(env.Type),
			CreatedAt: time.Now(),
		}
		for _, b := range env.Message.Content {
			msg.Content = append(msg.Content, model.ContentBlock{
				Type:         model.BlockType(b.Type),
				Text:         b.Text,
				Thinking:     b.Thinking,
				Signature:    b.Signature,
				ToolUseID:    b.ID,
				ToolName:     b.Name,
				ToolInput:    b.Input,
				ToolUseRefID: b.ToolUseID,
				IsError:      b.IsError,
			})
		}
		return []model.StreamFrame{{Message: &msg}}
	}
	return nil
}

type familyError struct{ msg string }

func (e *familyError) Error() string { return e.msg }

func newFamilyError(msg string) error { return &familyError{msg: msg} }
