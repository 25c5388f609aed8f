package gate

import "strings"

// manifestFiles are the node manifest and lockfiles whose modification
// requires a dependency install before tests run.
var manifestFiles = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"yarn.lock":         true,
}

// ShouldInstallNodeDependencies reports whether a dependency install is
// needed before testing a workspace. The root workspace (empty name or
// "root") installs when a root-level manifest or lockfile changed; a
// named workspace installs when its own manifest or lockfile changed.
// Blank changed-path entries never trigger installation.
func ShouldInstallNodeDependencies(workspaceName string, changedPaths []string) bool {
	name := strings.TrimSpace(workspaceName)
	isRoot := name == "" || name == "root"

	for _, path := range changedPaths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if isRoot {
			if !strings.Contains(path, "/") && manifestFiles[path] {
				return true
			}
			continue
		}
		rest, ok := strings.CutPrefix(path, name+"/")
		if ok && manifestFiles[rest] {
			return true
		}
	}
	return false
}
