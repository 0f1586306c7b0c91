package domain

import "slices"

// Identity is the authenticated principal behind a connection.
// It is produced by an AuthVerifier and never constructed by this service.
type Identity struct {
	UserID     string         `json:"user_id"`
	Workspaces []string       `json:"workspaces"`
	Claims     map[string]any `json:"claims,omitempty"`
}

// MemberOf reports whether the identity may join the given workspace.
func (i Identity) MemberOf(workspaceID string) bool {
	return slices.Contains(i.Workspaces, workspaceID)
}
