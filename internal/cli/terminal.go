package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
)

// palette styles terminal output. Colours are dropped automatically when
// the writer is not a terminal.
type palette struct {
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	warnStyle    lipgloss.Style
	faintStyle   lipgloss.Style
	matchStyle   lipgloss.Style
	labelStyle   lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		errorStyle:   r.NewStyle().Foreground(lipgloss.Color("1")),
		successStyle: r.NewStyle().Foreground(lipgloss.Color("2")),
		warnStyle:    r.NewStyle().Foreground(lipgloss.Color("3")),
		faintStyle:   r.NewStyle().Faint(true),
		matchStyle:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		labelStyle:   r.NewStyle().Bold(true),
	}
}

// terminalSink prints status messages one per line.
type terminalSink struct {
	mu    sync.Mutex
	w     io.Writer
	p     palette
	quiet bool
}

func newTerminalSink(w io.Writer, quiet bool) *terminalSink {
	return &terminalSink{w: w, p: newPalette(w), quiet: quiet}
}

func (s *terminalSink) Emit(m status.Message) {
	line := m.String()
	switch m.Kind {
	case status.KindError:
		line = s.p.errorStyle.Render(line)
	case status.KindWarning:
		line = s.p.warnStyle.Render(line)
	case status.KindSuccess:
		line = s.p.successStyle.Render(line)
	case status.KindProgress:
		if s.quiet {
			return
		}
		line = s.p.faintStyle.Render(line)
	default:
		if s.quiet {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}
