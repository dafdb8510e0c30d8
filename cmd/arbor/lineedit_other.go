//go:build !linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

var stdinReader = bufio.NewReader(os.Stdin)

func readLine(prompt string) (string, error) {
	if stdinIsTTY() {
		fmt.Print(prompt)
	}
	s, err := stdinReader.ReadString('\n')
	if err != nil {
		if err == io.EOF && s != "" {
			return trimNewline(s), nil
		}
		return "", err
	}
	return trimNewline(s), nil
}

func trimNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
