package gate

import (
	"strings"

	"autopilot/pkg/config"
)

// Supported run scopes. Anything other than "changed" means the full
// workspace list.
const (
	ScopeAll     = "all"
	ScopeChanged = "changed"
)

// SelectWorkspaces picks the workspaces a run must test. A nil
// workspace list selects nothing. Any scope other than "changed"
// selects everything. Changed scope only filters when change
// information is actually available; without changed paths it falls
// back to the full list.
func SelectWorkspaces(workspaces []config.Workspace, scope string, changedPaths []string) []config.Workspace {
	if workspaces == nil {
		return []config.Workspace{}
	}
	if scope != ScopeChanged {
		return workspaces
	}
	if changedPaths == nil {
		return workspaces
	}

	selected := make([]config.Workspace, 0, len(workspaces))
	for _, ws := range workspaces {
		if workspaceTouched(ws, changedPaths) {
			selected = append(selected, ws)
		}
	}
	return selected
}

// workspaceTouched reports whether any changed path falls inside the
// workspace's directory. A root workspace (empty or "." cwd) is touched
// by any change.
func workspaceTouched(ws config.Workspace, changedPaths []string) bool {
	cwd := strings.Trim(ws.Cwd, "/")
	for _, path := range changedPaths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if cwd == "" || cwd == "." {
			return true
		}
		if path == cwd || strings.HasPrefix(path, cwd+"/") {
			return true
		}
	}
	return false
}
