package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
)

// Alert prints each notification as a self-contained block.
type Alert struct {
	mu    sync.Mutex
	w     io.Writer
	color colorstring.Colorize
}

func NewAlert(w io.Writer, noColor bool) *Alert {
	return &Alert{
		w: w,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: noColor,
			Reset:   false,
		},
	}
}

func (a *Alert) print(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintln(a.w, s)
}

func (a *Alert) Loading(message string) {
	a.print(a.paint("[dim]", "⏳ "+message))
}

func (a *Alert) Success(n Notice) {
	var b strings.Builder
	b.WriteString(a.paint("[bold][green]", "✅ "+n.Title))
	b.WriteString("\n\n")
	b.WriteString(n.Message)
	if len(n.Steps) > 0 {
		b.WriteString("\n\nTo install:")
		for i, step := range n.Steps {
			fmt.Fprintf(&b, "\n%d. %s", i+1, step)
		}
		b.WriteString("\n\n")
		b.WriteString(a.paint("[yellow]", "⚠️ "+InstallWarning))
	}
	if n.File != "" {
		b.WriteString("\n\nSaved to: ")
		b.WriteString(n.File)
	} else {
		b.WriteString("\n\nCheck your Downloads folder.")
	}
	a.print(b.String())
}

func (a *Alert) Failure(n Notice) {
	var b strings.Builder
	b.WriteString(a.paint("[bold][red]", "❌ "+n.Title))
	b.WriteString("\n\n")
	b.WriteString(n.Message)
	b.WriteString("\n\nPlease try again.")
	a.print(b.String())
}

// paint wraps text in the given colour codes. text itself is never parsed
// for codes.
func (a *Alert) paint(codes, text string) string {
	if a.color.Disable {
		return text
	}
	return a.color.Color(codes) + text + a.color.Color("[reset]")
}
