// Package model holds the data types shared across the agent supervision
// core: projects, sessions, messages, process state, and permission modes.
// None of these types own behavior beyond simple invariants; the components
// in internal/process, internal/supervisor, etc. operate on them.
package model

import (
	"encoding/base64"
	"time"
)

// Project is a logical workspace identified by its absolute working
// directory. Id is a stable base64url encoding of Path: the mapping is
// bijective within one fleet and opaque to clients.
type Project struct {
	Path          string    `json:"path"`
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	SessionCount  int       `json:"sessionCount"`
	LastActivity  time.Time `json:"lastActivity"`
	AgentFamily   AgentFamily `json:"agentFamily,omitempty"`
	// Discovered is true when transcripts exist on disk for this project;
	// false for a "virtual" project (directory exists, no transcripts yet).
	Discovered bool `json:"discovered"`

	// VCS metadata is auxiliary: it never participates in the id/path
	// bijection, it only helps a client label the project.
	VCSRoot string `json:"vcsRoot,omitempty"`
	VCSKind string `json:"vcsKind,omitempty"`
}

// ProjectID computes the url-safe, reversible project id for an absolute
// directory path.
func ProjectID(absPath string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(absPath))
}

// ProjectPath decodes a project id back into its absolute directory path.
func ProjectPath(id string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewProject builds a Project from an absolute path, deriving its id.
func NewProject(absPath string) Project {
	return Project{
		Path:       absPath,
		ID:         ProjectID(absPath),
		Discovered: true,
	}
}
