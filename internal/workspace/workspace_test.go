package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManagerLifecycle(t *testing.T) {
	tempBase := t.TempDir()
	mgr := NewManager(tempBase)

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	wsPath := mgr.GetPath()
	if wsPath == "" {
		t.Fatal("GetPath() returned empty string")
	}
	if !strings.Contains(filepath.Base(wsPath), "relforge-") {
		t.Errorf("Expected timestamped directory, got: %s", wsPath)
	}
	if _, err := os.Stat(wsPath); os.IsNotExist(err) {
		t.Errorf("Workspace directory does not exist: %s", wsPath)
	}

	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if _, err := os.Stat(wsPath); !os.IsNotExist(err) {
		t.Errorf("Workspace directory still exists after cleanup: %s", wsPath)
	}
}

func TestCreateSubdirRequiresWorkspace(t *testing.T) {
	mgr := NewManager(t.TempDir())
	if _, err := mgr.CreateSubdir("checkout"); err == nil {
		t.Fatal("expected error before Create()")
	}
}

func TestInstallEnvsAreDisjoint(t *testing.T) {
	mgr := NewManager(t.TempDir())
	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	defer func() { _ = mgr.Cleanup() }()

	a, err := mgr.CreateInstallEnv("archive")
	if err != nil {
		t.Fatalf("CreateInstallEnv failed: %v", err)
	}
	b, err := mgr.CreateInstallEnv("archive")
	if err != nil {
		t.Fatalf("CreateInstallEnv failed: %v", err)
	}
	if a == b {
		t.Fatalf("install environments must be unique, both were %s", a)
	}
	for _, dir := range []string{a, b} {
		if !strings.HasPrefix(dir, mgr.GetPath()) {
			t.Errorf("install env %s escaped workspace %s", dir, mgr.GetPath())
		}
	}
}
