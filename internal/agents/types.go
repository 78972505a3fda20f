// Package agents owns the per-agent manifests, the agents.json index and
// the workspace provisioning of an OpenGoat home.
package agents

import (
	"errors"
	"fmt"
)

// Agent types.
const (
	TypeManager    = "manager"
	TypeIndividual = "individual"
)

// Agent is one participant in the reporting hierarchy. The zero ReportsTo
// marks the organization root.
type Agent struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"displayName"`
	Type              string   `json:"type"`
	ReportsTo         string   `json:"reportsTo,omitempty"`
	Role              string   `json:"role,omitempty"`
	ProviderID        string   `json:"providerId,omitempty"`
	BootstrapFiles    []string `json:"bootstrapFiles,omitempty"`
	WorkspaceDir      string   `json:"workspaceDir,omitempty"`
	InternalConfigDir string   `json:"internalConfigDir,omitempty"`
	CreatedAt         int64    `json:"createdAt,omitempty"`
	UpdatedAt         int64    `json:"updatedAt,omitempty"`
}

// IsRoot reports whether the agent sits at the top of the hierarchy.
func (a Agent) IsRoot() bool { return a.ReportsTo == "" }

// UpdatePatch carries optional field changes for Update. Nil pointers leave
// the field untouched.
type UpdatePatch struct {
	DisplayName *string
	Type        *string
	ReportsTo   *string
	Role        *string
	ProviderID  *string
}

var (
	// ErrAgentNotFound is returned when an id resolves to nothing.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrDuplicateAgent is returned when creating an id that already exists
	// under a different manager. Identical re-ensures stay idempotent.
	ErrDuplicateAgent = errors.New("agent already exists")
	// ErrInvalidAgentConfig wraps malformed per-agent config documents.
	ErrInvalidAgentConfig = errors.New("invalid agent config")
)

// ValidationError marks bad caller input (empty name, unknown parent,
// cycle, protected root).
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
