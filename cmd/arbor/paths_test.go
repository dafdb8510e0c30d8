package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverONNXModelsSorted(t *testing.T) {
	dir := t.TempDir()
	files := []string{"b.onnx", "a.onnx", "ignore.txt"}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write file %s: %v", name, err)
		}
	}

	got, err := discoverONNXModels(dir)
	if err != nil {
		t.Fatalf("discoverONNXModels returned error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.onnx"),
		filepath.Join(dir, "b.onnx"),
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected model count: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected ordering at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestResolveModelPath(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(envArborModelsDir, "")
		got, err := resolveModelPath("/tmp/model.onnx", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/model.onnx") {
			t.Fatalf("unexpected model path: got %q", got)
		}
	})

	t.Run("nothing configured means no model", func(t *testing.T) {
		t.Setenv(envArborModelsDir, "")
		got, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != "" {
			t.Fatalf("expected empty path, got %q", got)
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		dir := t.TempDir()
		only := filepath.Join(dir, "only.onnx")
		if err := os.WriteFile(only, []byte("x"), 0o644); err != nil {
			t.Fatalf("write model: %v", err)
		}
		t.Setenv(envArborModelsDir, dir)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != only {
			t.Fatalf("unexpected model path: got %q want %q", got, only)
		}
	})

	t.Run("empty models dir is an error", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(envArborModelsDir, dir)
		if _, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when the models directory holds no models")
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"a.onnx", "b.onnx"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
				t.Fatalf("write model %s: %v", name, err)
			}
		}
		t.Setenv(envArborModelsDir, dir)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		if _, err := resolveModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := t.TempDir()
		a := filepath.Join(dir, "a.onnx")
		b := filepath.Join(dir, "b.onnx")
		if err := os.WriteFile(b, []byte("x"), 0o644); err != nil {
			t.Fatalf("write model b: %v", err)
		}
		if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
			t.Fatalf("write model a: %v", err)
		}
		t.Setenv(envArborModelsDir, dir)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return true }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveModelPath("", "", bytes.NewBufferString("2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != b {
			t.Fatalf("unexpected model selection: got %q want %q", got, b)
		}
	})

	t.Run("flag dir overrides env", func(t *testing.T) {
		flagDir := t.TempDir()
		envDir := t.TempDir()
		want := filepath.Join(flagDir, "flagged.onnx")
		if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
			t.Fatalf("write model: %v", err)
		}
		if err := os.WriteFile(filepath.Join(envDir, "env.onnx"), []byte("x"), 0o644); err != nil {
			t.Fatalf("write model: %v", err)
		}
		t.Setenv(envArborModelsDir, envDir)

		got, err := resolveModelPath("", flagDir, bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelPath returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected model path: got %q want %q", got, want)
		}
	})
}
