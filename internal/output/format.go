// Package output renders CLI results as aligned text or JSON.
package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Format selects how results are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Formatter writes results in the selected format.
type Formatter struct {
	writer  io.Writer
	format  Format
	profile termenv.Profile
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithFormat sets the output format.
func WithFormat(f Format) Option {
	return func(fm *Formatter) {
		if f == FormatJSON {
			fm.format = FormatJSON
		}
	}
}

// WithColor forces colors on or off.
func WithColor(on bool) Option {
	return func(fm *Formatter) {
		if on {
			fm.profile = termenv.ANSI256
		} else {
			fm.profile = termenv.Ascii
		}
	}
}

// New returns a formatter writing to w. Colors are enabled only when w is a
// terminal and NO_COLOR is unset.
func New(w io.Writer, opts ...Option) *Formatter {
	f := &Formatter{
		writer:  w,
		format:  FormatText,
		profile: termenv.Ascii,
	}
	if IsTerminal(w) && os.Getenv("NO_COLOR") == "" {
		f.profile = termenv.NewOutput(w).EnvColorProfile()
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Writer returns the underlying writer.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// IsJSON reports whether JSON output is selected.
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v interface{}) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Color paints s with an ANSI color (e.g. "2" green, "1" red) when colors
// are enabled.
func (f *Formatter) Color(s, color string) string {
	if f.profile == termenv.Ascii {
		return s
	}
	return termenv.String(s).Foreground(f.profile.Color(color)).String()
}

// Bold emboldens s when colors are enabled.
func (f *Formatter) Bold(s string) string {
	if f.profile == termenv.Ascii {
		return s
	}
	return termenv.String(s).Bold().String()
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// TerminalWidth returns the width of stdout, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
