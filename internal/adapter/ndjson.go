package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/queue"
)

// RawLine is one undecoded NDJSON line a family CLI wrote to stdout.
type RawLine []byte

// Translator turns one family-native NDJSON line into zero or more
// normalized StreamFrames. pendingID is the "pending-<timestamp>" id to use
// for outward user-message echoes until the family reports its real session
// id via an init event.
type Translator func(line RawLine, pendingID string) []model.StreamFrame

// NDJSONAdapter runs a family CLI as a subprocess, feeding queued user input
// to its stdin as the family's own input framing requires, and translating
// its stdout NDJSON lines into normalized frames. Every NDJSON-dialect
// family (Claude-like, Codex-like) is an instance of this adapter with a
// different Translator and stdin encoder.
type NDJSONAdapter struct {
	// Command builds the subprocess argv for the given options.
	Command func(opts StartOptions) (name string, args []string)
	// EncodeInput renders a queued UserInput as a line written to stdin.
	EncodeInput func(in UserInput) ([]byte, error)
	Translate   Translator
}

// StartSession implements Adapter.
func (a *NDJSONAdapter) StartSession(ctx context.Context, opts StartOptions) (*Handle, error) {
	ctx, cancel := context.WithCancel(ctx)

	name, args := a.Command(opts)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, model.WrapError(model.ErrFatal, "open adapter stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, model.WrapError(model.ErrFatal, "open adapter stdout", err)
	}

	q := queue.New[UserInput]()
	out := make(chan model.StreamFrame)

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, model.WrapError(model.ErrFatal, "spawn adapter process", err)
	}

	pendingID := "pending-" + time.Now().UTC().Format("20060102T150405.000000000")

	var wg sync.WaitGroup
	wg.Add(2)

	// Pump queued user input into the subprocess's stdin.
	go func() {
		defer wg.Done()
		defer stdin.Close()
		if opts.InitialMessage != "" {
			q.Push(UserInput{Text: opts.InitialMessage})
		}
		for in := range q.Generator() {
			line, err := a.EncodeInput(in)
			if err != nil {
				continue
			}
			line = append(line, '\n')
			if _, err := stdin.Write(line); err != nil {
				return
			}
		}
	}()

	// Read the subprocess's NDJSON stdout and translate each line.
	go func() {
		defer wg.Done()
		defer close(out)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			for _, frame := range a.Translate(cp, pendingID) {
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- model.StreamFrame{Error: &model.ErrorTrigger{Err: err}}:
			case <-ctx.Done():
			}
			return
		}
		if err := cmd.Wait(); err != nil {
			select {
			case out <- model.StreamFrame{Error: &model.ErrorTrigger{Err: err}}:
			case <-ctx.Done():
			}
		}
	}()

	abort := func() {
		q.Close()
		cancel()
		_ = cmd.Process.Kill()
	}

	return &Handle{Stream: out, Queue: q, Abort: abort}, nil
}

// decodeLine is a small helper translators use to unmarshal a line into a
// family-specific envelope, swallowing malformed lines rather than failing
// the whole stream (transcripts are authored by third-party CLIs the core
// does not control).
func decodeLine[T any](line RawLine) (T, bool) {
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
