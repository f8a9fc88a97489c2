// Package transcript implements the Session Reader (§4.3): parses one
// family's on-disk transcript files into the normalized Session/Message
// view, without ever mutating them.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

// ideMetadataPrefixes are text blocks the title extractor ignores (§4.3).
var ideMetadataPrefixes = []string{
	"<ide_opened_file>",
	"<ide_diagnostics>",
	"<ide_selection>",
}

// contextWindows maps a model id to its context-window size, for the
// percent-used calculation. Unknown model ids yield a zero percent rather
// than a guess.
var contextWindows = map[string]int{
	"claude-sonnet-4-20250514": 200000,
	"claude-opus-4-20250514":   200000,
	"gpt-5-codex":              272000,
	"gemini-2.5-pro":           1000000,
}

// entry is one raw line of a family's NDJSON transcript, flattened across
// the three families' (differing) field names into one superset struct.
// Unknown/family-specific fields beyond these are preserved in Extra.
type entry struct {
	raw json.RawMessage

	UUID      string
	ParentID  string
	Role      string // user | assistant | system
	Text      string
	Timestamp time.Time
	ModelID   string
	InputTok  int
	CacheRead int
	CacheCrt  int
	ToolUseID string
	ToolName  string
	IsMeta    bool // agent-subsidiary / metadata-only line, never counted as a real message
}

// Parser turns one family's raw transcript lines into entries. Each family
// gets its own Parser; internal/adapter's per-family split is the grounding
// for why this isn't one generic schema.
type Parser func(line []byte) (entry, bool)

// Layout tells the reader where one project's transcript files for one
// family live, and which Parser reads them.
type Layout struct {
	Family     model.AgentFamily
	Dir        func(projectPath string) string
	FileGlob   string // e.g. "*.jsonl"
	IsSubagent func(filename string) bool
	Parse      Parser
}

// Reader implements listSessions/getSession/getSessionSummary (§4.3).
type Reader struct {
	layouts map[model.AgentFamily]Layout
}

// New builds a Reader from the known per-family layouts.
func New(layouts []Layout) *Reader {
	r := &Reader{layouts: make(map[model.AgentFamily]Layout)}
	for _, l := range layouts {
		r.layouts[l.Family] = l
	}
	return r
}

func (r *Reader) sessionFiles(family model.AgentFamily, projectPath string) ([]string, error) {
	layout, ok := r.layouts[family]
	if !ok {
		return nil, model.NewError(model.ErrInvalidInput, "no transcript layout for family "+string(family))
	}
	dir := layout.Dir(projectPath)
	matches, err := filepath.Glob(filepath.Join(dir, layout.FileGlob))
	if err != nil {
		return nil, model.WrapError(model.ErrFormat, "glob transcript directory", err)
	}
	var files []string
	for _, m := range matches {
		base := filepath.Base(m)
		if layout.IsSubagent != nil && layout.IsSubagent(base) {
			continue
		}
		files = append(files, m)
	}
	return files, nil
}

// ListSessions returns every non-empty, non-metadata-only session for
// projectID/family, sorted by updatedAt descending.
func (r *Reader) ListSessions(projectID, projectPath string, family model.AgentFamily) ([]model.Session, error) {
	files, err := r.sessionFiles(family, projectPath)
	if err != nil {
		return nil, err
	}

	var sessions []model.Session
	for _, f := range files {
		sid := sessionIDFromFilename(f)
		summary, err := r.summarize(family, f, sid, projectID)
		if err != nil || summary == nil {
			continue
		}
		sessions = append(sessions, *summary)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	return sessions, nil
}

func sessionIDFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// GetSessionSummary derives a summary for one session: first user message
// for title, file mtime/birthtime for timestamps, last assistant usage for
// context usage, first assistant entry for model id.
func (r *Reader) GetSessionSummary(id, projectID, projectPath string, family model.AgentFamily) (*model.Session, error) {
	files, err := r.sessionFiles(family, projectPath)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if sessionIDFromFilename(f) == id {
			return r.summarize(family, f, id, projectID)
		}
	}
	return nil, model.NewError(model.ErrNotFound, "session not found: "+id)
}

// GetSessionSummaryIfChanged returns nil (no CoreError, no summary) when
// (mtime, size) match the caller's cached values, enabling cheap cache
// validation without reparsing the file.
func (r *Reader) GetSessionSummaryIfChanged(id, projectID, projectPath string, family model.AgentFamily, cachedMtime time.Time, cachedSize int64) (*model.Session, error) {
	files, err := r.sessionFiles(family, projectPath)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if sessionIDFromFilename(f) != id {
			continue
		}
		fi, err := os.Stat(f)
		if err != nil {
			return nil, model.WrapError(model.ErrFormat, "stat transcript file", err)
		}
		if fi.ModTime().Equal(cachedMtime) && fi.Size() == cachedSize {
			return nil, nil
		}
		return r.summarize(family, f, id, projectID)
	}
	return nil, model.NewError(model.ErrNotFound, "session not found: "+id)
}

func (r *Reader) summarize(family model.AgentFamily, file, sessionID, projectID string) (*model.Session, error) {
	fi, err := os.Stat(file)
	if err != nil {
		return nil, model.WrapError(model.ErrFormat, "stat transcript file", err)
	}

	entries, err := r.readEntries(family, file)
	if err != nil {
		return nil, err
	}
	real := realEntries(entries)
	if len(real) == 0 {
		return nil, nil // empty or metadata-only transcript, skipped
	}

	var title, modelID string
	var usage model.ContextUsage
	for _, e := range real {
		if title == "" && e.Role == "user" && !hasIDEMetadataPrefix(e.Text) {
			title = model.TruncateTitle(strings.TrimSpace(e.Text))
		}
		if modelID == "" && e.Role == "assistant" {
			modelID = e.ModelID
		}
		if e.Role == "assistant" {
			used := e.InputTok + e.CacheRead + e.CacheCrt
			usage.InputTokens = used
			if window, ok := contextWindows[e.ModelID]; ok && window > 0 {
				usage.Percent = int(float64(used) / float64(window) * 100.0)
			}
		}
	}

	createdAt := fi.ModTime()
	if birth := firstTimestamp(real); !birth.IsZero() {
		createdAt = birth
	}

	return &model.Session{
		ID:           sessionID,
		ProjectID:    projectID,
		CreatedAt:    createdAt,
		UpdatedAt:    fi.ModTime(),
		MessageCount: len(real),
		AutoTitle:    title,
		ContextUsage: usage,
		AgentFamily:  family,
		ModelID:      modelID,
	}, nil
}

func firstTimestamp(entries []entry) time.Time {
	for _, e := range entries {
		if !e.Timestamp.IsZero() {
			return e.Timestamp
		}
	}
	return time.Time{}
}

func realEntries(entries []entry) []entry {
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsMeta && e.Role != "" {
			out = append(out, e)
		}
	}
	return out
}

func hasIDEMetadataPrefix(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, p := range ideMetadataPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// Detail is the full normalized message view returned by GetSession.
type Detail struct {
	Session       model.Session
	Messages      []model.Message
	OrphanedTools []string
}

// GetSession builds the parent DAG, keeps only the active branch, computes
// orphaned tool-use ids, and preserves unknown fields verbatim. When
// afterMessageID is non-empty the result is sliced to messages strictly
// after it. disableOrphanCheck skips orphan computation (externally-owned
// sessions, §4.3).
func (r *Reader) GetSession(id, projectID, projectPath string, family model.AgentFamily, afterMessageID string, disableOrphanCheck bool) (*Detail, error) {
	summary, err := r.GetSessionSummary(id, projectID, projectPath, family)
	if err != nil {
		return nil, err
	}

	files, err := r.sessionFiles(family, projectPath)
	if err != nil {
		return nil, err
	}
	var file string
	for _, f := range files {
		if sessionIDFromFilename(f) == id {
			file = f
			break
		}
	}
	if file == "" {
		return nil, model.NewError(model.ErrNotFound, "session not found: "+id)
	}

	entries, err := r.readEntries(family, file)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(entries))
	for _, e := range entries {
		if e.IsMeta || e.Role == "" {
			continue
		}
		msgs = append(msgs, entryToMessage(e, id))
	}

	active := model.ActiveBranch(msgs)

	if afterMessageID != "" {
		active = sliceAfter(active, afterMessageID)
	}

	var orphans []string
	if !disableOrphanCheck {
		orphans = model.OrphanedToolUseIDs(active)
	}

	return &Detail{Session: *summary, Messages: active, OrphanedTools: orphans}, nil
}

func sliceAfter(msgs []model.Message, afterID string) []model.Message {
	for i, m := range msgs {
		if m.ID == afterID {
			return msgs[i+1:]
		}
	}
	return msgs
}

func entryToMessage(e entry, sessionID string) model.Message {
	msgType := model.MessageType(e.Role)
	msg := model.Message{
		ID:        e.UUID,
		SessionID: sessionID,
		Type:      msgType,
		ParentID:  e.ParentID,
		CreatedAt: e.Timestamp,
	}
	if e.Text != "" {
		msg.Content = append(msg.Content, model.ContentBlock{Type: model.BlockText, Text: e.Text})
	}
	if e.ToolUseID != "" && e.ToolName != "" {
		msg.Content = append(msg.Content, model.ContentBlock{Type: model.BlockToolUse, ToolUseID: e.ToolUseID, ToolName: e.ToolName})
	}
	var extra map[string]any
	_ = json.Unmarshal(e.raw, &extra)
	msg.Extra = extra
	return msg
}

func (r *Reader) readEntries(family model.AgentFamily, file string) ([]entry, error) {
	layout, ok := r.layouts[family]
	if !ok {
		return nil, model.NewError(model.ErrInvalidInput, "no transcript layout for family "+string(family))
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, model.WrapError(model.ErrFormat, "open transcript file", err)
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		e, ok := layout.Parse(line)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, model.WrapError(model.ErrFormat, "scan transcript file", err)
	}
	return entries, nil
}
