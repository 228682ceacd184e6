package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// TerminalWindow is the parent window of a command line session. It is in
// the foreground when stdin is an interactive terminal.
type TerminalWindow struct {
	in         *os.File
	out        io.Writer
	isTerminal func(fd int) bool
}

var _ coordinator.ParentWindow = (*TerminalWindow)(nil)

func NewTerminalWindow(in *os.File, out io.Writer) *TerminalWindow {
	return &TerminalWindow{in: in, out: out, isTerminal: term.IsTerminal}
}

func (w *TerminalWindow) Foreground() bool {
	if w == nil || w.in == nil {
		return false
	}
	return w.isTerminal(int(w.in.Fd()))
}

// Present prints the authorization URL for the user to open.
func (w *TerminalWindow) Present(_ context.Context, url string) error {
	_, err := fmt.Fprintf(w.out, "Open the following URL in a browser to sign in:\n\n  %s\n\n", url)
	return err
}
