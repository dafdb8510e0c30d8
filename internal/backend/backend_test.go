package backend

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", Auto, false},
		{"auto", Auto, false},
		{"stub", Stub, false},
		{"STUB", Stub, false},
		{"  onnx  ", ONNX, false},
		{"cuda", "", true},
		{"metal", "", true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Normalize(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAvailableListsStub(t *testing.T) {
	t.Parallel()

	if !strings.Contains(Available(), Stub) {
		t.Fatalf("Available() = %q does not list the stub backend", Available())
	}
}

func TestOpenStub(t *testing.T) {
	t.Parallel()

	b, err := Open(Stub, "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if b.Name() != Stub {
		t.Fatalf("name = %q, want %q", b.Name(), Stub)
	}

	if _, err := Open("quantum", "", nil); err == nil {
		t.Fatalf("open of unknown backend succeeded")
	}
}
