package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func randomSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	return storage
}

type failingReader struct {
	n int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		n := copy(p, bytes.Repeat([]byte("x"), r.n))
		r.n = 0
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := filepath.Join(os.TempDir(), "videogen_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(dir) }()

		storage, err := NewLocalStorage(dir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.Dir() != dir {
			t.Errorf("Dir() = %v, want %v", storage.Dir(), dir)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("rejects empty directory", func(t *testing.T) {
		if _, err := NewLocalStorage(""); err == nil {
			t.Fatal("NewLocalStorage(\"\") expected error")
		}
	})
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"video.mp4", true},
		{"3f1c-photo.png", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc/passwd", false},
		{"a/b.mp4", false},
		{`a\b.mp4`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidName(tt.name); got != tt.want {
				t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLocalStorage_Save(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("writes the exact name", func(t *testing.T) {
		path, err := storage.Save(ctx, "clip.mp4", strings.NewReader("frames"))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if path != filepath.Join(storage.Dir(), "clip.mp4") {
			t.Errorf("path = %s, want inside %s", path, storage.Dir())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read saved file: %v", err)
		}
		if string(data) != "frames" {
			t.Errorf("content = %q, want %q", data, "frames")
		}
		if !storage.Exists("clip.mp4") {
			t.Error("Exists() = false after Save")
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		if _, err := storage.Save(ctx, "dup.png", strings.NewReader("a")); err != nil {
			t.Fatalf("first Save() error = %v", err)
		}
		if _, err := storage.Save(ctx, "dup.png", strings.NewReader("b")); err == nil {
			t.Fatal("second Save() expected error")
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		_, err := storage.Save(ctx, "../escape.mp4", strings.NewReader("x"))
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Save() error = %v, want ErrInvalidName", err)
		}
	})

	t.Run("removes partial file on read failure", func(t *testing.T) {
		_, err := storage.Save(ctx, "partial.mp4", &failingReader{n: 128})
		if err == nil {
			t.Fatal("Save() expected error")
		}
		if storage.Exists("partial.mp4") {
			t.Error("partial file left behind")
		}
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := storage.Save(cctx, "cancelled.mp4", strings.NewReader("x"))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Save() error = %v, want context.Canceled", err)
		}
	})
}

func TestLocalStorage_Open(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.Save(ctx, "out.mp4", bytes.NewReader([]byte("video"))); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rc, err := storage.Open(ctx, "out.mp4")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "video" {
		t.Errorf("got %q, want %q", content, "video")
	}

	_, err = storage.Open(ctx, "missing.mp4")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLocalStorage_Remove(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"a.png", "b.mp3"} {
		if _, err := storage.Save(ctx, name, strings.NewReader(name)); err != nil {
			t.Fatalf("Save(%s) error = %v", name, err)
		}
	}

	if err := storage.Remove(ctx, "a.png", "missing.mp4", "b.mp3"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if storage.Exists("a.png") || storage.Exists("b.mp3") {
		t.Error("files still present after Remove")
	}

	if err := storage.Remove(ctx, "../x"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Remove(traversal) error = %v, want ErrInvalidName", err)
	}
}

func TestLocalStorage_Publish(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.Publish(context.Background(), "key.mp4", strings.NewReader("x"))
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("Publish() error = %v, want ErrS3NotConfigured", err)
	}
}

func TestLocalStorage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*LocalStorage)(nil)
	var _ Storage = (*S3Storage)(nil)
}
