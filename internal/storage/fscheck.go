package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the journal would live on a network
// mount, where SQLite file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("sqlite journal on network filesystem")

var errFSTypeUnsupported = errors.New("filesystem detection unsupported on this platform")

var remoteFSTypes = []string{"afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav"}

// fsTypeFunc reports the filesystem type name for an existing path.
type fsTypeFunc func(path string) (string, error)

// CheckLocalFilesystem verifies that path, or its nearest existing parent,
// is on local disk. Platforms without detection pass.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, filesystemType)
}

func checkLocalFilesystem(path string, fsType fsTypeFunc) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	name, err := fsType(existing)
	if errors.Is(err, errFSTypeUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isRemoteFS(name) {
		return fmt.Errorf("%w: %q is on %s; set journal.path to a local disk", ErrNetworkFilesystem, path, name)
	}
	return nil
}

// existingAncestor walks up from path to the first component that exists.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}

func isRemoteFS(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, remote := range remoteFSTypes {
		if name == remote {
			return true
		}
	}
	return false
}
