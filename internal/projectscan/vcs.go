// Package projectscan enumerates projects from on-disk transcript
// directories across agent families and resolves hashed directory names
// via reverse lookup (§4.5).
package projectscan

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// vcsInfo is auxiliary metadata about a directory's version control root.
// It never participates in the project id/path bijection (internal/model's
// ProjectID is a pure function of the path); it only helps label a project.
type vcsInfo struct {
	root string
	kind string
}

// detectVCS walks up from dir looking for a .git directory or worktree
// pointer, mirroring git's own repository discovery.
func detectVCS(dir string) vcsInfo {
	gitDir := findGitDir(dir)
	if gitDir == "" {
		return vcsInfo{}
	}

	root := filepath.Dir(gitDir)
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = root
	if out, err := cmd.Output(); err == nil {
		root = strings.TrimSpace(string(out))
	}
	return vcsInfo{root: root, kind: "git"}
}

func findGitDir(start string) string {
	current := start
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return gitPath
			}
			if content, err := os.ReadFile(gitPath); err == nil {
				line := strings.TrimSpace(string(content))
				if strings.HasPrefix(line, "gitdir: ") {
					gitdir := strings.TrimPrefix(line, "gitdir: ")
					if !filepath.IsAbs(gitdir) {
						gitdir = filepath.Join(current, gitdir)
					}
					return gitdir
				}
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// rootCommitID returns git's earliest root commit sha for worktree, sorted
// alphabetically when a repo has multiple roots (merged histories). Used
// only as VCS display metadata, never as the project id.
func rootCommitID(worktree string) string {
	cmd := exec.Command("git", "rev-list", "--max-parents=0", "--all")
	cmd.Dir = worktree
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	var roots []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			roots = append(roots, line)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	return roots[0]
}
