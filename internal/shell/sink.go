package shell

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fmueller/voxpush/internal/indicator"
)

// Sender is the part of *tea.Program the sink needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Sink forwards indicator updates to a running program.
type Sink struct {
	Program Sender
}

func (s Sink) Show(u indicator.Update) {
	if s.Program == nil {
		return
	}
	s.Program.Send(StatusMsg(u))
}
