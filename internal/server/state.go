package server

import (
	"context"

	"github.com/fmueller/voxpush/internal/format"
	"github.com/fmueller/voxpush/internal/history"
	"github.com/fmueller/voxpush/internal/indicator"
	"github.com/fmueller/voxpush/internal/model"
	"github.com/fmueller/voxpush/internal/orchestrator"
	"github.com/fmueller/voxpush/internal/transcribe"
)

type Models interface {
	Update(fn func(model.Selection) model.Selection) bool
	Selection() model.Selection
	Status() model.Status
}

type Catalog interface {
	Names() []string
	Has(name string) bool
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (transcribe.Transcript, error)
}

type Toggler interface {
	Toggle(ctx context.Context) error
	State() orchestrator.State
	CycleID() string
}

type Delivery interface {
	AutoPaste() bool
	SetAutoPaste(enabled bool)
}

type History interface {
	Search(ctx context.Context, query string, limit int) ([]history.Entry, error)
}

// ServiceState is everything the routes read and mutate. Each component
// guards its own fields; ServiceState only holds the references.
type ServiceState struct {
	Models      Models
	Catalog     Catalog
	Formats     *format.Service
	Themes      *indicator.Themes
	Indicator   *indicator.Indicator
	Transcriber Transcriber
	// Toggler, History and Delivery are optional; their routes answer 503
	// without them.
	Toggler  Toggler
	History  History
	Delivery Delivery
	// UploadDir receives /transcribe uploads before they are consumed.
	UploadDir string
}
