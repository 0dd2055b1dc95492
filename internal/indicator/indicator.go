// Package indicator publishes the dictation status to whatever is showing it:
// the log, desktop notifications and the terminal shell.
package indicator

import (
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

type Status int

const (
	Idle Status = iota
	Listening
	Transcribing
	Error
)

func (s Status) String() string {
	switch s {
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// Update is one published status change.
type Update struct {
	Status Status
	Detail string
}

type Sink interface {
	Show(Update)
}

type SinkFunc func(Update)

func (f SinkFunc) Show(u Update) { f(u) }

// Indicator fans status changes out to its sinks in the order they were added.
type Indicator struct {
	mu      sync.Mutex
	current Update
	sinks   []Sink
}

func New(sinks ...Sink) *Indicator {
	return &Indicator{sinks: sinks}
}

func (i *Indicator) Add(sink Sink) {
	i.mu.Lock()
	i.sinks = append(i.sinks, sink)
	i.mu.Unlock()
}

func (i *Indicator) Set(status Status, detail string) {
	u := Update{Status: status, Detail: detail}

	i.mu.Lock()
	i.current = u
	sinks := append([]Sink(nil), i.sinks...)
	i.mu.Unlock()

	for _, s := range sinks {
		s.Show(u)
	}
}

func (i *Indicator) Current() Update {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// LogSink writes every change at info level; errors go to warn.
func LogSink(logger *zap.Logger) Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return SinkFunc(func(u Update) {
		fields := []zap.Field{zap.Stringer("status", u.Status)}
		if u.Detail != "" {
			fields = append(fields, zap.String("detail", u.Detail))
		}
		if u.Status == Error {
			logger.Warn("indicator", fields...)
			return
		}
		logger.Info("indicator", fields...)
	})
}

type NotifyFunc func(title, message string) error

// NotifySink raises a desktop notification when listening starts and when a
// cycle fails.
type NotifySink struct {
	Title  string
	Notify NotifyFunc
	Logger *zap.Logger
}

func (n NotifySink) Show(u Update) {
	var msg string
	switch u.Status {
	case Listening:
		msg = "Listening…"
	case Error:
		msg = "Dictation failed"
		if u.Detail != "" {
			msg += ": " + u.Detail
		}
	default:
		return
	}

	notify := n.Notify
	if notify == nil {
		notify = func(title, message string) error { return beeep.Notify(title, message, "") }
	}
	title := n.Title
	if title == "" {
		title = "voxpush"
	}
	if err := notify(title, msg); err != nil && n.Logger != nil {
		n.Logger.Debug("desktop notification failed", zap.Error(err))
	}
}
