package backend

import "strings"

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Stub}
	if Has(ONNX) {
		entries = append(entries, ONNX)
	}
	return strings.Join(entries, ",")
}
