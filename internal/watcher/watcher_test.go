package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
)

func TestCountFiles_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	if count := CountFiles(dir); count != 0 {
		t.Errorf("expected 0 files, got %d", count)
	}
}

func TestCountFiles_WithFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		os.WriteFile(filepath.Join(dir, "file"+string(rune('a'+i))+".txt"), []byte("test"), 0644)
	}

	if count := CountFiles(dir); count != 5 {
		t.Errorf("expected 5 files, got %d", count)
	}
}

func TestCountFiles_ExcludesNoise(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.py"), []byte("test"), 0644)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET"), 0644)

	for _, sub := range []string{"node_modules", ".git", "__pycache__"} {
		subDir := filepath.Join(dir, sub)
		os.MkdirAll(subDir, 0755)
		os.WriteFile(filepath.Join(subDir, "junk"), []byte("junk"), 0644)
	}

	if count := CountFiles(dir); count != 1 {
		t.Errorf("expected 1 file after exclusions, got %d", count)
	}
}

func TestBuildFileTree_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	if tree := BuildFileTree(dir, 3); len(tree) != 0 {
		t.Errorf("expected empty tree, got %d nodes", len(tree))
	}
}

func TestBuildFileTree_DirsBeforeFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.py"), []byte("print(1)"), 0644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	os.WriteFile(filepath.Join(dir, "sub", "helper.py"), []byte("x = 1"), 0644)

	tree := BuildFileTree(dir, 3)
	if len(tree) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(tree))
	}
	if !tree[0].IsDir || tree[0].Name != "sub" {
		t.Errorf("expected first node to be 'sub' dir, got %s (isDir=%v)", tree[0].Name, tree[0].IsDir)
	}
	if tree[1].IsDir || tree[1].Name != "main.py" {
		t.Errorf("expected second node to be 'main.py' file, got %s (isDir=%v)", tree[1].Name, tree[1].IsDir)
	}
	if len(tree[0].Children) != 1 || tree[0].Children[0].Name != "helper.py" {
		t.Errorf("expected helper.py under sub, got %v", tree[0].Children)
	}
}

func TestBuildFileTree_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c", "d")
	os.MkdirAll(deep, 0755)
	os.WriteFile(filepath.Join(deep, "deep.txt"), []byte("deep"), 0644)

	tree := BuildFileTree(dir, 3)
	if len(tree) != 1 || tree[0].Name != "a" {
		t.Fatalf("expected single top-level node 'a', got %v", tree)
	}
	b := tree[0].Children
	if len(b) != 1 || b[0].Name != "b" {
		t.Fatalf("expected 'b' child, got %v", b)
	}
	c := b[0].Children
	if len(c) != 1 || c[0].Name != "c" {
		t.Fatalf("expected 'c' child, got %v", c)
	}
	if len(c[0].Children) != 0 {
		t.Errorf("expected no children past max depth, got %d", len(c[0].Children))
	}
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()

	updates := make(chan protocol.FilesUpdatePayload, 4)
	w, err := New(dir, func(p protocol.FilesUpdatePayload) { updates <- p }, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "out.txt"), []byte("result"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case p := <-updates:
		if p.FileCount != 1 {
			t.Errorf("expected fileCount 1, got %d", p.FileCount)
		}
		found := false
		for _, path := range p.ChangedPaths {
			if path == "out.txt" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected out.txt in changed paths, got %v", p.ChangedPaths)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()

	updates := make(chan protocol.FilesUpdatePayload, 8)
	w, err := New(dir, func(p protocol.FilesUpdatePayload) { updates <- p }, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	sub := filepath.Join(dir, "generated")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	// First update is the directory creation itself.
	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("no update for directory creation")
	}

	if err := os.WriteFile(filepath.Join(sub, "data.csv"), []byte("a,b\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case p := <-updates:
		found := false
		for _, path := range p.ChangedPaths {
			if path == filepath.Join("generated", "data.csv") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected generated/data.csv in changed paths, got %v", p.ChangedPaths)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update for file in new subdirectory")
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.Close()
	w.Close() // must not panic
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".git", true},
		{".env", true},
		{"main.py", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isHidden(tt.name); got != tt.want {
			t.Errorf("isHidden(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
