package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Placement says where a SQLite ledger file lives and what that means for
// deduplication across invocations.
type Placement string

const (
	// PlacementLocal is a persistent local disk shared by every process on the host.
	PlacementLocal Placement = "local"
	// PlacementEphemeral is scratch space private to one sandbox (Lambda /tmp,
	// tmpfs). Claims there only deduplicate within that sandbox.
	PlacementEphemeral Placement = "ephemeral"
	// PlacementNetwork is a remote mount without reliable file locks.
	PlacementNetwork Placement = "network"
)

// PathReport describes a SQLite ledger location.
type PathReport struct {
	Path      string
	Inspected string
	FSType    string
	Placement Placement
}

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smb2":   {},
	"smbfs":  {},
	"webdav": {},
}

var scratchFilesystems = map[string]struct{}{
	"ramfs": {},
	"tmpfs": {},
}

// lambdaScratch is the only writable directory of a Lambda sandbox.
const lambdaScratch = "/tmp"

// InspectSQLitePath classifies path. lookup reads the process environment
// and may be nil.
func InspectSQLitePath(path string, lookup func(string) (string, bool)) (PathReport, error) {
	return inspectWith(path, lookup, detectFilesystemType)
}

func inspectWith(path string, lookup func(string) (string, bool), detector func(string) (string, error)) (PathReport, error) {
	if path == "" {
		return PathReport{}, fmt.Errorf("sqlite path is empty")
	}

	inspect, err := nearestExistingPath(path)
	if err != nil {
		return PathReport{}, fmt.Errorf("resolve ledger path %q: %w", path, err)
	}
	fsType, err := detector(inspect)
	if err != nil {
		return PathReport{}, fmt.Errorf("detect filesystem for %q: %w", inspect, err)
	}
	fsType = strings.TrimSpace(strings.ToLower(fsType))

	rep := PathReport{Path: path, Inspected: inspect, FSType: fsType, Placement: PlacementLocal}
	switch {
	case contains(networkFilesystems, fsType):
		rep.Placement = PlacementNetwork
	case contains(scratchFilesystems, fsType), inLambda(lookup) && underDir(inspect, lambdaScratch):
		rep.Placement = PlacementEphemeral
	}
	return rep, nil
}

// requireLockable rejects ledger paths whose filesystem cannot hold SQLite locks.
func requireLockable(path string) error {
	rep, err := InspectSQLitePath(path, nil)
	if err != nil {
		return err
	}
	if rep.Placement == PlacementNetwork {
		return fmt.Errorf(
			"ledger path %q is on network filesystem %q; SQLite needs local file locks. Use a local sqlite:// path or a postgres:// or redis:// ledger",
			path, rep.FSType)
	}
	return nil
}

func inLambda(lookup func(string) (string, bool)) bool {
	if lookup == nil {
		return false
	}
	v, ok := lookup("AWS_LAMBDA_FUNCTION_NAME")
	return ok && v != ""
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func nearestExistingPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}
