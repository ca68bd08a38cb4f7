package scheduler

import (
	"fmt"
	"io"
)

// Buffer is the display surface the pipeline rewrites on every run.
type Buffer interface {
	Clear()
	Print(line string)
	Highlight(line string)
}

// TerminalBuffer writes buffer lines to w. With ANSI set, Clear wipes the
// screen and highlighted lines are bold and ring the bell.
type TerminalBuffer struct {
	w    io.Writer
	ansi bool
}

// NewTerminalBuffer creates a TerminalBuffer.
func NewTerminalBuffer(w io.Writer, ansi bool) *TerminalBuffer {
	return &TerminalBuffer{w: w, ansi: ansi}
}

func (b *TerminalBuffer) Clear() {
	if b.ansi {
		fmt.Fprint(b.w, "\033[H\033[2J")
	}
}

func (b *TerminalBuffer) Print(line string) {
	fmt.Fprintln(b.w, line)
}

func (b *TerminalBuffer) Highlight(line string) {
	if b.ansi {
		fmt.Fprintf(b.w, "\a\033[1m%s\033[0m\n", line)
		return
	}
	fmt.Fprintln(b.w, line)
}
