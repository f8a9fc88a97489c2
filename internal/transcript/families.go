package transcript

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/projectscan"
)

// claudeLine is the on-disk shape of one Claude-family transcript entry.
type claudeLine struct {
	Type       string          `json:"type"`
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid"`
	Timestamp  time.Time       `json:"timestamp"`
	Message    *claudeLineMsg  `json:"message"`
	Usage      *claudeUsage    `json:"usage"`
}

type claudeLineMsg struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

func parseClaudeLine(line []byte) (entry, bool) {
	var cl claudeLine
	if err := json.Unmarshal(line, &cl); err != nil {
		return entry{}, false
	}
	if cl.Type == "summary" || cl.Message == nil {
		return entry{raw: line, IsMeta: true}, true
	}
	e := entry{
		raw:       line,
		UUID:      cl.UUID,
		ParentID:  cl.ParentUUID,
		Role:      cl.Message.Role,
		Timestamp: cl.Timestamp,
		ModelID:   cl.Message.Model,
		Text:      extractText(cl.Message.Content),
	}
	if cl.Usage != nil {
		e.InputTok = cl.Usage.InputTokens
		e.CacheRead = cl.Usage.CacheReadInputTokens
		e.CacheCrt = cl.Usage.CacheCreationInputTokens
	}
	return e, true
}

// extractText handles content as either a bare string or an array of
// content blocks (only text blocks contribute to the title/flattened text).
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// codexLine mirrors the protocol envelope internal/adapter already defines
// for Codex-family NDJSON: the on-disk rollout format and the live stdout
// stream share the same event vocabulary.
type codexLine struct {
	Event     string        `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
	Msg       *codexLineMsg `json:"msg"`
}

type codexLineMsg struct {
	ID       string              `json:"id"`
	ParentID string              `json:"parent_id"`
	Role     string              `json:"role"`
	Model    string              `json:"model"`
	Blocks   []codexLineMsgBlock `json:"blocks"`
	Usage    *codexLineUsage     `json:"usage"`
}

type codexLineMsgBlock struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type codexLineUsage struct {
	InputTokens int `json:"input_tokens"`
	CachedInput int `json:"cached_input_tokens"`
}

func parseCodexLine(line []byte) (entry, bool) {
	var cl codexLine
	if err := json.Unmarshal(line, &cl); err != nil {
		return entry{}, false
	}
	if cl.Event == "session_configured" || cl.Msg == nil {
		return entry{raw: line, IsMeta: true}, true
	}
	role := "assistant"
	if cl.Event == "user_message" {
		role = "user"
	}
	var sb strings.Builder
	for _, b := range cl.Msg.Blocks {
		if b.Kind == "text" {
			sb.WriteString(b.Text)
		}
	}
	e := entry{
		raw:       line,
		UUID:      cl.Msg.ID,
		ParentID:  cl.Msg.ParentID,
		Role:      role,
		Timestamp: cl.Timestamp,
		ModelID:   cl.Msg.Model,
		Text:      sb.String(),
	}
	if cl.Msg.Usage != nil {
		e.InputTok = cl.Msg.Usage.InputTokens
		e.CacheRead = cl.Msg.Usage.CachedInput
	}
	return e, true
}

// acpLine is the Gemini/ACP-family on-disk transcript shape: a flat
// role/content record (no block tagging: each record carries its text as a
// single content string).
type acpLine struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

func parseACPLine(line []byte) (entry, bool) {
	var al acpLine
	if err := json.Unmarshal(line, &al); err != nil {
		return entry{}, false
	}
	if al.Role == "" {
		return entry{raw: line, IsMeta: true}, true
	}
	return entry{
		raw:       line,
		UUID:      al.ID,
		ParentID:  al.ParentID,
		Role:      al.Role,
		Timestamp: al.Timestamp,
		ModelID:   al.Model,
		Text:      al.Content,
	}, true
}

func isSubagentFile(name string) bool {
	return strings.HasPrefix(name, "agent-")
}

// DefaultLayouts builds the three known families' transcript layouts,
// mirroring internal/projectscan.DefaultLayouts' directory roots and
// directory-naming schemes.
func DefaultLayouts(home string) []Layout {
	scanLayouts := projectscan.DefaultLayouts(home)
	roots := make(map[model.AgentFamily]string, len(scanLayouts))
	slugs := make(map[model.AgentFamily]func(string) string, len(scanLayouts))
	for _, l := range scanLayouts {
		roots[l.Family] = l.Root
		slugs[l.Family] = l.Slug
	}

	return []Layout{
		{
			Family: model.FamilyClaude,
			Dir: func(projectPath string) string {
				return filepath.Join(roots[model.FamilyClaude], slugs[model.FamilyClaude](projectPath))
			},
			FileGlob:   "*.jsonl",
			IsSubagent: isSubagentFile,
			Parse:      parseClaudeLine,
		},
		{
			Family: model.FamilyCodex,
			Dir: func(projectPath string) string {
				return filepath.Join(roots[model.FamilyCodex], hashDirName(projectPath))
			},
			FileGlob:   "*.jsonl",
			IsSubagent: isSubagentFile,
			Parse:      parseCodexLine,
		},
		{
			Family: model.FamilyGeminiACP,
			Dir: func(projectPath string) string {
				return filepath.Join(roots[model.FamilyGeminiACP], slugs[model.FamilyGeminiACP](projectPath))
			},
			FileGlob:   "*.json",
			IsSubagent: isSubagentFile,
			Parse:      parseACPLine,
		},
	}
}

func hashDirName(projectPath string) string {
	return projectscan.HashPath(projectPath)
}
