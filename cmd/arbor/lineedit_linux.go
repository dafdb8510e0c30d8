//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	chatHistory []string
	stdinReader = bufio.NewReader(os.Stdin)
)

// readLine reads one line of input. On a terminal it runs a raw-mode
// editor with history and the usual emacs-style keys; otherwise it falls
// back to buffered reads so piped input works. io.EOF means the user is
// done (Ctrl+D on an empty line, Ctrl+C, or exhausted stdin).
func readLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		s, err := stdinReader.ReadString('\n')
		if err != nil {
			if err == io.EOF && s != "" {
				return trimNewline(s), nil
			}
			return "", err
		}
		return trimNewline(s), nil
	}

	fd := int(os.Stdin.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, saved)
	}()

	ed := &lineEditor{prompt: prompt, history: chatHistory}
	fmt.Print(prompt)
	out, err := ed.edit()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) != "" {
		chatHistory = append(chatHistory, out)
	}
	return out, nil
}

// lineEditor edits a single line in raw mode. It is rebuilt per readLine
// call; only the shared history survives between lines.
type lineEditor struct {
	prompt   string
	line     []byte
	cursor   int
	history  []string
	histPos  int
	draft    string
	browsing bool
}

func (ed *lineEditor) edit() (string, error) {
	var buf [16]byte
	var seq strings.Builder
	esc := 0
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			switch esc {
			case 1:
				esc = 0
				switch b {
				case '[':
					esc = 2
					seq.Reset()
				case 'b', 'B':
					ed.wordLeft()
				case 'f', 'F':
					ed.wordRight()
				case 127:
					ed.deleteWordBack()
				}
				continue
			case 2:
				seq.WriteByte(b)
				if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
					ed.csi(seq.String())
					esc = 0
				}
				continue
			}

			switch b {
			case 27: // ESC
				esc = 1
			case '\r', '\n':
				fmt.Print("\r\n")
				return string(ed.line), nil
			case 3: // Ctrl+C
				fmt.Print("^C\r\n")
				return "", io.EOF
			case 4: // Ctrl+D
				if len(ed.line) == 0 {
					fmt.Print("\r\n")
					return "", io.EOF
				}
			case 127, 8: // backspace
				if ed.cursor > 0 {
					ed.line = append(ed.line[:ed.cursor-1], ed.line[ed.cursor:]...)
					ed.cursor--
					ed.redraw()
				}
			case 1: // Ctrl+A
				ed.cursor = 0
				ed.redraw()
			case 5: // Ctrl+E
				ed.cursor = len(ed.line)
				ed.redraw()
			case 11: // Ctrl+K
				ed.line = ed.line[:ed.cursor]
				ed.redraw()
			case 21: // Ctrl+U
				ed.line = append(ed.line[:0], ed.line[ed.cursor:]...)
				ed.cursor = 0
				ed.redraw()
			case 23: // Ctrl+W
				ed.deleteWordBack()
			default:
				if b >= 32 {
					ed.insert(b)
				}
			}
		}
	}
}

func (ed *lineEditor) csi(seq string) {
	switch seq {
	case "A":
		ed.historyUp()
	case "B":
		ed.historyDown()
	case "C":
		if ed.cursor < len(ed.line) {
			ed.cursor++
			ed.redraw()
		}
	case "D":
		if ed.cursor > 0 {
			ed.cursor--
			ed.redraw()
		}
	case "H":
		ed.cursor = 0
		ed.redraw()
	case "F":
		ed.cursor = len(ed.line)
		ed.redraw()
	case "3~": // Delete
		if ed.cursor < len(ed.line) {
			ed.line = append(ed.line[:ed.cursor], ed.line[ed.cursor+1:]...)
			ed.redraw()
		}
	case "1;5D", "5D": // Ctrl+Left
		ed.wordLeft()
	case "1;5C", "5C": // Ctrl+Right
		ed.wordRight()
	case "3;5~": // Ctrl+Delete
		ed.deleteWordForward()
	}
}

func (ed *lineEditor) redraw() {
	fmt.Printf("\r%s%s\x1b[K", ed.prompt, string(ed.line))
	if ed.cursor < len(ed.line) {
		fmt.Printf("\r%s%s", ed.prompt, string(ed.line[:ed.cursor]))
	}
}

func (ed *lineEditor) insert(b byte) {
	if ed.cursor == len(ed.line) {
		ed.line = append(ed.line, b)
	} else {
		ed.line = append(ed.line, 0)
		copy(ed.line[ed.cursor+1:], ed.line[ed.cursor:])
		ed.line[ed.cursor] = b
	}
	ed.cursor++
	ed.redraw()
}

func (ed *lineEditor) historyUp() {
	if len(ed.history) == 0 {
		return
	}
	if !ed.browsing {
		ed.draft = string(ed.line)
		ed.browsing = true
		ed.histPos = len(ed.history)
	}
	if ed.histPos > 0 {
		ed.histPos--
		ed.line = append(ed.line[:0], ed.history[ed.histPos]...)
		ed.cursor = len(ed.line)
		ed.redraw()
	}
}

func (ed *lineEditor) historyDown() {
	if !ed.browsing {
		return
	}
	if ed.histPos < len(ed.history)-1 {
		ed.histPos++
		ed.line = append(ed.line[:0], ed.history[ed.histPos]...)
	} else {
		ed.histPos = len(ed.history)
		ed.line = append(ed.line[:0], ed.draft...)
		ed.browsing = false
	}
	ed.cursor = len(ed.line)
	ed.redraw()
}

func wordBoundary(b byte) bool {
	return b == ' ' || b == '\t'
}

func (ed *lineEditor) wordLeft() {
	if ed.cursor == 0 {
		return
	}
	for ed.cursor > 0 && wordBoundary(ed.line[ed.cursor-1]) {
		ed.cursor--
	}
	for ed.cursor > 0 && !wordBoundary(ed.line[ed.cursor-1]) {
		ed.cursor--
	}
	ed.redraw()
}

func (ed *lineEditor) wordRight() {
	if ed.cursor >= len(ed.line) {
		return
	}
	for ed.cursor < len(ed.line) && wordBoundary(ed.line[ed.cursor]) {
		ed.cursor++
	}
	for ed.cursor < len(ed.line) && !wordBoundary(ed.line[ed.cursor]) {
		ed.cursor++
	}
	ed.redraw()
}

func (ed *lineEditor) deleteWordBack() {
	if ed.cursor == 0 {
		return
	}
	start := ed.cursor
	for start > 0 && wordBoundary(ed.line[start-1]) {
		start--
	}
	for start > 0 && !wordBoundary(ed.line[start-1]) {
		start--
	}
	ed.line = append(ed.line[:start], ed.line[ed.cursor:]...)
	ed.cursor = start
	ed.redraw()
}

func (ed *lineEditor) deleteWordForward() {
	if ed.cursor >= len(ed.line) {
		return
	}
	end := ed.cursor
	for end < len(ed.line) && wordBoundary(ed.line[end]) {
		end++
	}
	for end < len(ed.line) && !wordBoundary(ed.line[end]) {
		end++
	}
	ed.line = append(ed.line[:ed.cursor], ed.line[end:]...)
	ed.redraw()
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
