package signals

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// FileSystemProbe is the production WorkspaceProbe: it inspects a
// package.json (if present) for "test"/"build" scripts and checks for a
// handful of conventional test-directory names.
type FileSystemProbe struct{}

type packageManifest struct {
	Scripts map[string]string `json:"scripts"`
}

func (FileSystemProbe) readManifest(directory string) (packageManifest, bool) {
	raw, err := os.ReadFile(filepath.Join(directory, "package.json"))
	if err != nil {
		return packageManifest{}, false
	}
	var manifest packageManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return packageManifest{}, false
	}
	return manifest, true
}

// HasTestScript implements WorkspaceProbe.
func (p FileSystemProbe) HasTestScript(directory string) bool {
	if manifest, ok := p.readManifest(directory); ok {
		if _, ok := manifest.Scripts["test"]; ok {
			return true
		}
	}
	for _, candidate := range []string{"Makefile", "go.mod"} {
		if _, err := os.Stat(filepath.Join(directory, candidate)); err == nil {
			return true
		}
	}
	return false
}

// HasBuildScript implements WorkspaceProbe.
func (p FileSystemProbe) HasBuildScript(directory string) bool {
	if manifest, ok := p.readManifest(directory); ok {
		if _, ok := manifest.Scripts["build"]; ok {
			return true
		}
	}
	return false
}

var testDirNames = []string{"test", "tests", "__tests__", "spec"}

// HasTestsDir implements WorkspaceProbe.
func (FileSystemProbe) HasTestsDir(directory string) bool {
	for _, name := range testDirNames {
		info, err := os.Stat(filepath.Join(directory, name))
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
