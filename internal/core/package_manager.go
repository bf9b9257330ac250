package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

var (
	// ErrNoPackageManager is returned when no lockfile is found
	ErrNoPackageManager = errors.New("couldn't detect any package manager")
	// ErrAmbiguousPackageManager is returned when lockfiles of several managers are present
	ErrAmbiguousPackageManager = errors.New("detected too many package managers")
	// ErrUnknownScript is returned when package.json has no script by that name
	ErrUnknownScript = errors.New("no such script in package.json")
)

// PackageManager is a Node.js package manager command
type PackageManager string

const (
	NPM  PackageManager = "npm"
	PNPM PackageManager = "pnpm"
	Yarn PackageManager = "yarn"
)

var lockfiles = map[string]PackageManager{
	"package-lock.json": NPM,
	"pnpm-lock.yaml":    PNPM,
	"yarn.lock":         Yarn,
}

// DetectPackageManager picks the package manager from the lockfile in dir.
// Exactly one kind of lockfile must be present.
func DetectPackageManager(dir string) (PackageManager, error) {
	var found []string
	for name := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	sort.Strings(found)

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w in %s", ErrNoPackageManager, dir)
	case 1:
		return lockfiles[found[0]], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousPackageManager, strings.Join(found, ", "))
	}
}

// InstallCommand returns the command that installs dependencies
func (pm PackageManager) InstallCommand() string {
	return string(pm) + " install"
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// Scripts returns the scripts section of package.json in dir
func Scripts(dir string) (map[string]string, error) {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	if pkg.Scripts == nil {
		pkg.Scripts = map[string]string{}
	}
	return pkg.Scripts, nil
}

// ScriptCommand resolves a package.json script name to its command line.
// It is read on every call since a sync may have changed package.json.
func ScriptCommand(dir, name string) (string, error) {
	scripts, err := Scripts(dir)
	if err != nil {
		return "", err
	}
	cmd, ok := scripts[name]
	if !ok || strings.TrimSpace(cmd) == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}
	return cmd, nil
}

// ScriptEnv returns the environment overlay for running package scripts in
// dir: node_modules/.bin goes first on PATH, as package managers do.
func ScriptEnv(dir string) map[string]string {
	bin := filepath.Join(dir, "node_modules", ".bin")
	path := os.Getenv("PATH")
	if path == "" {
		return map[string]string{"PATH": bin}
	}
	return map[string]string{"PATH": bin + string(os.PathListSeparator) + path}
}
