package adapter

import (
	"encoding/json"
	"time"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/model"
)

// codexEnvelope is the Codex-like family's NDJSON event shape: "event"
// instead of "type"/"subtype", "msg" instead of "message", a flatter
// session-id field name. Distinct from claudeEnvelope because the two
// families' wire dialects genuinely differ; the normalized output is the
// same model.StreamFrame either way.
type codexEnvelope struct {
	Event     string          `json:"event"`
	ConvoID   string          `json:"conversation_id,omitempty"`
	Cwd       string          `json:"cwd,omitempty"`
	Msg       *codexMsg       `json:"msg,omitempty"`
	ErrorText string          `json:"error,omitempty"`
	ToolName  string          `json:"tool,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
}

type codexMsg struct {
	ID      string      `json:"id"`
	Role    string      `json:"role"`
	Blocks  []codexBlock `json:"blocks"`
}

type codexBlock struct {
	Kind      string         `json:"kind"`
	Text      string         `json:"text,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	RefCallID string         `json:"ref_call_id,omitempty"`
	Failed    bool           `json:"failed,omitempty"`
}

// codexBlockKind maps Codex's block "kind" vocabulary onto the shared
// model.BlockType tags.
var codexBlockKind = map[string]model.BlockType{
	"text":        model.BlockText,
	"reasoning":   model.BlockThinking,
	"tool_call":   model.BlockToolUse,
	"tool_output": model.BlockToolResult,
}

// NewCodex builds the Codex-like family's NDJSON adapter.
func NewCodex(cmd config.AgentCommand) Adapter {
	return &NDJSONAdapter{
		Command: func(opts StartOptions) (string, []string) {
			args := append([]string{}, cmd.Args...)
			if opts.ResumeSessionID != "" {
				args = append(args, "resume", opts.ResumeSessionID)
			}
			if opts.Model != "" {
				args = append(args, "--model", opts.Model)
			}
			return cmd.Command, args
		},
		EncodeInput: func(in UserInput) ([]byte, error) {
			if in.Answer != nil {
				return json.Marshal(map[string]any{
					"op":      "tool_response",
					"call_id": in.RequestID,
					"response": in.Answer,
				})
			}
			return json.Marshal(map[string]any{"op": "user_input", "text": in.Text})
		},
		Translate: translateCodexLine,
	}
}

func translateCodexLine(line RawLine, pendingID string) []model.StreamFrame {
	env, ok := decodeLine[codexEnvelope](line)
	if !ok {
		return nil
	}

	switch env.Event {
	case "session_configured":
		sid := env.ConvoID
		if sid == "" {
			sid = pendingID
		}
		frame := model.StreamFrame{Init: &model.InitTrigger{SessionID: sid, Cwd: env.Cwd}}
		if env.ConvoID != "" && env.ConvoID != pendingID {
			frame.SessionIDChanged = &model.SessionIDChangedTrigger{OldID: pendingID, NewID: env.ConvoID}
		}
		return []model.StreamFrame{frame}

	case "tool_approval_request":
		var input map[string]any
		_ = json.Unmarshal(env.ToolInput, &input)
		msg := model.Message{
			Type:      model.MessageSystem,
			SessionID: env.ConvoID,
			CreatedAt: time.Now(),
			Extra: map[string]any{
				"subtype":  "input_request",
				"toolName": env.ToolName,
				"input":    input,
				"callId":   env.CallID,
			},
		}
		return []model.StreamFrame{{Message: &msg}}

	case "task_complete":
		return []model.StreamFrame{{Result: &model.ResultTrigger{SessionID: env.ConvoID}}}

	case "error":
		return []model.StreamFrame{{Error: &model.ErrorTrigger{SessionID: env.ConvoID, Err: newFamilyError(env.ErrorText)}}}

	case "agent_message", "user_message":
		if env.Msg == nil {
			return nil
		}
		msg := model.Message{
			ID:        env.Msg.ID,
			SessionID: env.ConvoID,
			Type:      codexMessageType(env.Event),
			CreatedAt: time.Now(),
		}
		for _, b := range env.Msg.Blocks {
			blockType, known := codexBlockKind[b.Kind]
			if !known {
				blockType = model.BlockText
			}
			msg.Content = append(msg.Content, model.ContentBlock{
				Type:         blockType,
				Text:         b.Text,
				ToolUseID:    b.CallID,
				ToolName:     b.Tool,
				ToolInput:    b.Input,
				ToolUseRefID: b.RefCallID,
				IsError:      b.Failed,
			})
		}
		return []model.StreamFrame{{Message: &msg}}
	}
	return nil
}

func codexMessageType(event string) model.MessageType {
	if event == "user_message" {
		return model.MessageUser
	}
	return model.MessageAssistant
}
