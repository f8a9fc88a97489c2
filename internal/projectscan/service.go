package projectscan

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

// Service resolves the current working-directory project: the one the
// supervisor itself runs against, as opposed to ones discovered by Scanner
// from other agent families' transcript roots.
type Service struct {
	workDir string
}

// NewService builds a Service rooted at workDir.
func NewService(workDir string) *Service {
	return &Service{workDir: workDir}
}

// Current returns the project for the service's configured working
// directory.
func (s *Service) Current() (model.Project, error) {
	return s.ForDir(s.workDir)
}

// ForDir builds the Project for an arbitrary directory, deriving its id from
// the bijective path encoding (§3) and attaching VCS metadata as an
// auxiliary label only.
func (s *Service) ForDir(dir string) (model.Project, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return model.Project{}, model.WrapError(model.ErrInvalidInput, "resolve project directory", err)
	}

	proj := model.NewProject(absPath)
	proj.DisplayName = filepath.Base(absPath)

	if vcs := detectVCS(absPath); vcs.kind != "" {
		proj.VCSRoot = vcs.root
		proj.VCSKind = vcs.kind
	}

	if info, err := os.Stat(absPath); err == nil {
		proj.LastActivity = info.ModTime()
	} else {
		proj.LastActivity = time.Now()
	}

	return proj, nil
}
