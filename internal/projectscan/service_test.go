package projectscan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/internal/model"
)

func TestServiceForDirIsBijective(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir)

	proj, err := svc.ForDir(dir)
	require.NoError(t, err)

	absPath, err := filepath.Abs(dir)
	require.NoError(t, err)

	assert.Equal(t, model.ProjectID(absPath), proj.ID)

	back, err := model.ProjectPath(proj.ID)
	require.NoError(t, err)
	assert.Equal(t, absPath, back)
}

func TestServiceCurrentMatchesWorkDir(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir)

	current, err := svc.Current()
	require.NoError(t, err)
	forDir, err := svc.ForDir(dir)
	require.NoError(t, err)

	assert.Equal(t, forDir.ID, current.ID)
}
