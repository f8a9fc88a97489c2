package adapter

import "testing"

func TestTranslateCodexLineSessionConfigured(t *testing.T) {
	line := RawLine(`{"event":"session_configured","conversation_id":"conv-1","cwd":"/tmp"}`)
	frames := translateCodexLine(line, "pending-1")

	if len(frames) != 1 || frames[0].Init == nil {
		t.Fatalf("expected one init frame, got %+v", frames)
	}
	if frames[0].Init.SessionID != "conv-1" {
		t.Errorf("expected conv-1, got %s", frames[0].Init.SessionID)
	}
}

func TestTranslateCodexLineToolApproval(t *testing.T) {
	line := RawLine(`{"event":"tool_approval_request","conversation_id":"conv-1","tool":"shell","tool_input":{"cmd":"ls"},"call_id":"c1"}`)
	frames := translateCodexLine(line, "pending-1")

	if len(frames) != 1 || frames[0].Message == nil {
		t.Fatalf("expected one message frame, got %+v", frames)
	}
	if frames[0].Message.Extra["callId"] != "c1" {
		t.Errorf("expected callId c1, got %+v", frames[0].Message.Extra)
	}
}

func TestTranslateCodexLineAgentMessage(t *testing.T) {
	line := RawLine(`{"event":"agent_message","conversation_id":"conv-1","msg":{"id":"m1","role":"assistant","blocks":[{"kind":"text","text":"hi"}]}}`)
	frames := translateCodexLine(line, "pending-1")

	if len(frames) != 1 || frames[0].Message == nil {
		t.Fatalf("expected one message frame, got %+v", frames)
	}
	if len(frames[0].Message.Content) != 1 || frames[0].Message.Content[0].Text != "hi" {
		t.Errorf("unexpected content: %+v", frames[0].Message.Content)
	}
}

func TestTranslateCodexLineTaskComplete(t *testing.T) {
	line := RawLine(`{"event":"task_complete","conversation_id":"conv-1"}`)
	frames := translateCodexLine(line, "pending-1")

	if len(frames) != 1 || frames[0].Result == nil {
		t.Fatalf("expected one result frame, got %+v", frames)
	}
}
