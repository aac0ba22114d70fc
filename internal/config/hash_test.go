package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockConfigFileDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pool:\n  workers: 4\n")

	report, err := LockConfigFile(path, true)
	if err != nil {
		t.Fatalf("LockConfigFile() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if report.Hash == "" {
		t.Fatal("dry-run should still compute the hash")
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockedConfigLoadsAndDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pool:\n  workers: 4\n")

	report, err := LockConfigFile(path, false)
	if err != nil {
		t.Fatalf("LockConfigFile() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes["config.yaml"] != report.Hash {
		t.Fatalf("manifest hash = %q, want %q", manifest.Hashes["config.yaml"], report.Hash)
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("pool:\n  workers: 40\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() error = %v, want hash mismatch", err)
	}

	// Re-locking accepts the edit.
	if _, err := LockConfigFile(path, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() after relock failed: %v", err)
	}
}

func TestLoadRejectsFileMissingFromManifest(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(other, []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LockConfigFile(other, false); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, dir, "pool:\n  workers: 4\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "no hash in checksums") {
		t.Fatalf("Load() error = %v, want missing hash", err)
	}
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".checksums"), []byte("version: 9\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(dir); err == nil {
		t.Fatal("LoadChecksums() succeeded, want version error")
	}
}
