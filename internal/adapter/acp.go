package adapter

import (
	"context"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/queue"
)

// ACPAdapter is the protocol-driven family variant (§4.2 last bullet):
// agents that speak a JSON-RPC tool-call protocol over stdio, where the
// supervisor is expected to execute tools on its behalf rather than read an
// opaque NDJSON dialect. This implementation executes no tools and raises
// no permission prompts: each user turn is answered with a summary of the
// agent's available tools.
type ACPAdapter struct {
	cmd config.AgentCommand
}

// NewACP builds the Gemini/ACP-like family's adapter.
func NewACP(cmd config.AgentCommand) Adapter {
	return &ACPAdapter{cmd: cmd}
}

func (a *ACPAdapter) StartSession(ctx context.Context, opts StartOptions) (*Handle, error) {
	ctx, cancel := context.WithCancel(ctx)

	client, err := mcpclient.NewStdioMCPClient(a.cmd.Command, opts.Env, a.cmd.Args...)
	if err != nil {
		cancel()
		return nil, model.WrapError(model.ErrFatal, "create ACP client", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "tether", Version: "1.0.0"}

	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		cancel()
		return nil, model.WrapError(model.ErrFatal, "initialize ACP session", err)
	}

	q := queue.New[UserInput]()
	out := make(chan model.StreamFrame)
	sessionID := opts.ResumeSessionID
	if sessionID == "" {
		sessionID = "pending-" + time.Now().UTC().Format("20060102T150405.000000000")
	}

	go func() {
		defer close(out)
		defer client.Close()

		select {
		case out <- model.StreamFrame{Init: &model.InitTrigger{SessionID: sessionID, Cwd: opts.Cwd}}:
		case <-ctx.Done():
			return
		}

		if opts.InitialMessage != "" {
			q.Push(UserInput{Text: opts.InitialMessage})
		}

		for in := range q.Generator() {
			toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
			if err != nil {
				select {
				case out <- model.StreamFrame{Error: &model.ErrorTrigger{SessionID: sessionID, Err: err}}:
				case <-ctx.Done():
				}
				return
			}

			// The turn's text is not sent to the agent and no tool is
			// called: the turn is answered with one assistant message
			// naming the tools ListTools reported, followed by a result.
			msg := model.Message{
				SessionID: sessionID,
				Type:      model.MessageAssistant,
				CreatedAt: time.Now(),
				Content: []model.ContentBlock{{
					Type: model.BlockText,
					Text: acpToolSummary(in.Text, toolsResult),
				}},
			}
			select {
			case out <- model.StreamFrame{Message: &msg}:
			case <-ctx.Done():
				return
			}
			select {
			case out <- model.StreamFrame{Result: &model.ResultTrigger{SessionID: sessionID}}:
			case <-ctx.Done():
				return
			}
		}
	}()

	abort := func() {
		q.Close()
		cancel()
	}

	return &Handle{Stream: out, Queue: q, Abort: abort}, nil
}

func acpToolSummary(prompt string, tools *mcpgo.ListToolsResult) string {
	if tools == nil || len(tools.Tools) == 0 {
		return "no tools available for: " + prompt
	}
	names := make([]string, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		names = append(names, t.Name)
	}
	summary := "declined tool-call capability for: " + prompt + " (available: "
	for i, n := range names {
		if i > 0 {
			summary += ", "
		}
		summary += n
	}
	return summary + ")"
}
