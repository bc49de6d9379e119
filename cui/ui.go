// Package cui defines character user interfaces for I/O.
package cui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
)

// UI provides formatted output for the application.
type UI interface {
	// Output writes out s to the underlying writer with a line break.
	Output(s string)
	// Info is the same as Output, but colored UIs may decorate it.
	Info(s string)
	// Error writes out s to the error writer with a line break.
	Error(s string)
	// Writer returns the writer Output writes to.
	Writer() io.Writer
}

type basicUI struct {
	writer, errWriter io.Writer
}

// New instantiates a UI writing to the colorable stdout and stderr.
func New(opts ...Option) UI {
	ui := &basicUI{
		writer:    colorable.NewColorableStdout(),
		errWriter: colorable.NewColorableStderr(),
	}
	for _, o := range opts {
		o(ui)
	}
	return ui
}

func (u *basicUI) Output(s string) {
	fmt.Fprintln(u.writer, s)
}

func (u *basicUI) Info(s string) {
	u.Output(s)
}

func (u *basicUI) Error(s string) {
	fmt.Fprintln(u.errWriter, s)
}

func (u *basicUI) Writer() io.Writer {
	return u.writer
}

type coloredUI struct {
	UI
}

// NewColored wraps a UI so that Info and Error outputs are colored.
func NewColored(opts ...Option) UI {
	return &coloredUI{New(opts...)}
}

func (u *coloredUI) Info(s string) {
	u.UI.Info(color.BlueString(s))
}

func (u *coloredUI) Error(s string) {
	u.UI.Error(color.RedString(s))
}
