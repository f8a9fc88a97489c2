package projectscan

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tetherhq/tether/internal/model"
)

// Layout describes where one agent family keeps its transcripts on disk and
// how a project directory name maps back to an absolute path.
type Layout struct {
	Family model.AgentFamily
	// Root is the family's transcript root (e.g. "~/.claude/projects"); it
	// may not exist, which the scanner treats as "zero projects", not an
	// error (§4.5).
	Root string
	// Hashed is true when the family names each project subdirectory after
	// a lossy hash of the path rather than the path itself, requiring the
	// reverse lookup below.
	Hashed bool
	// Slug encodes an absolute path into the family's directory-naming
	// scheme. Unused when Hashed is true.
	Slug func(absPath string) string
}

// Scanner enumerates projects across every registered family and
// deduplicates them by canonical path (§4.5).
type Scanner struct {
	layouts      []Layout
	excludeGlobs []string
}

// New builds a Scanner over the given family layouts, in the order they
// should be walked.
func New(layouts []Layout) *Scanner {
	return &Scanner{layouts: layouts}
}

// WithExcludeGlobs returns a copy of the Scanner that additionally skips any
// discovered project whose resolved path matches one of the given doublestar
// patterns (e.g. scratch checkouts under "/tmp/**" that shouldn't show up as
// tracked projects).
func (s *Scanner) WithExcludeGlobs(patterns []string) *Scanner {
	return &Scanner{layouts: s.layouts, excludeGlobs: patterns}
}

func (s *Scanner) excluded(absPath string) bool {
	for _, pattern := range s.excludeGlobs {
		if ok, err := doublestar.Match(pattern, absPath); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultLayouts returns the standard root for each known family rooted
// under home. Callers may override for tests.
func DefaultLayouts(home string) []Layout {
	return []Layout{
		{
			Family: model.FamilyClaude,
			Root:   filepath.Join(home, ".claude", "projects"),
			Slug:   claudeSlug,
		},
		{
			Family: model.FamilyCodex,
			Root:   filepath.Join(home, ".codex", "sessions"),
			Hashed: true,
		},
		{
			Family: model.FamilyGeminiACP,
			Root:   filepath.Join(home, ".config", "gemini-acp", "projects"),
			Slug:   claudeSlug,
		},
	}
}

// claudeSlug mirrors the Claude-like CLI's directory naming: the absolute
// path with path separators flattened to "-".
func claudeSlug(absPath string) string {
	return strings.ReplaceAll(absPath, string(filepath.Separator), "-")
}

// hashPrefixLen is how much of a hash is shown in an unresolved placeholder
// id (`scheme:<hashprefix>`).
const hashPrefixLen = 12

func hashPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])
}

// HashPath exposes the hashed-family directory-naming scheme so
// internal/transcript can locate a hashed family's session directory for a
// known project path without duplicating the hash function.
func HashPath(absPath string) string {
	return hashPath(absPath)
}

// Scan walks every family root, producing one Project per discovered
// directory. knownPaths is the set of absolute paths already known to the
// fleet (tracked projects, previously-discovered ones); it is used to
// resolve hashed-family directories via reverse lookup. Missing roots are
// treated as empty, never as errors.
func (s *Scanner) Scan(knownPaths []string) ([]model.Project, error) {
	knownHashes := make(map[string]string, len(knownPaths)) // hash -> path
	for _, p := range knownPaths {
		knownHashes[hashPath(p)] = p
	}

	byPath := make(map[string]model.Project)
	var order []string

	for _, layout := range s.layouts {
		entries, err := os.ReadDir(layout.Root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, model.WrapError(model.ErrTransient, "read project root "+layout.Root, err)
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()

			var absPath string
			var resolved bool
			if layout.Hashed {
				absPath, resolved = knownHashes[name]
				if !resolved {
					// Fall back to scanning a session file's cwd field;
					// the reader owns transcript parsing, so the scanner
					// only tries the reverse-hash match here and leaves
					// unresolved entries as placeholders.
					absPath = "scheme:" + firstN(name, hashPrefixLen)
				}
			} else {
				absPath = unslug(name)
				resolved = true
			}

			if resolved && s.excluded(absPath) {
				continue
			}

			info, _ := e.Info()
			lastActivity := time.Time{}
			if info != nil {
				lastActivity = info.ModTime()
			}

			key := absPath
			existing, ok := byPath[key]
			if ok {
				if lastActivity.After(existing.LastActivity) {
					existing.LastActivity = lastActivity
				}
				byPath[key] = existing
				continue
			}

			proj := model.Project{
				Path:         absPath,
				DisplayName:  filepath.Base(absPath),
				LastActivity: lastActivity,
				AgentFamily:  layout.Family,
				Discovered:   true,
			}
			if resolved {
				proj.ID = model.ProjectID(absPath)
				if vcs := detectVCS(absPath); vcs.kind != "" {
					proj.VCSRoot = vcs.root
					proj.VCSKind = vcs.kind
				}
			} else {
				// Unresolved hash placeholders are not real paths; they
				// carry no bijective id until the reader resolves them.
				proj.ID = absPath
			}
			byPath[key] = proj
			order = append(order, key)
		}
	}

	sort.Strings(order)
	out := make([]model.Project, 0, len(order))
	for _, k := range order {
		out = append(out, byPath[k])
	}
	return out, nil
}

func unslug(name string) string {
	if strings.HasPrefix(name, string(filepath.Separator)) {
		return name
	}
	p := strings.ReplaceAll(name, "-", string(filepath.Separator))
	if !strings.HasPrefix(p, string(filepath.Separator)) {
		p = string(filepath.Separator) + p
	}
	return p
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
