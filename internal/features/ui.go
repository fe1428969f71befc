package features

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
)

// Backend is the persistence surface used by the Syncer. *api.Client
// satisfies it.
type Backend interface {
	CheckAuth(ctx context.Context) (*api.AuthStatus, error)
	ListFeatures(ctx context.Context) ([]api.FeatureRecord, error)
	SaveFeature(ctx context.Context, rec api.FeatureRecord) (string, error)
	DeleteFeature(ctx context.Context, id string) error
	ClearFeatures(ctx context.Context) (int, error)
}

// Editor opens the property edit modal for a feature.
type Editor interface {
	Open(f Feature)
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(message string) bool
}

// Notifier shows user-visible messages.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// View is a projection refreshed after every mutation of the feature set.
type View interface {
	Render(entries []Entry)
}

// Entry is one row of the projection handed to views.
type Entry struct {
	Feature Feature
	Visible bool
}

// EditorFunc adapts a function to Editor.
type EditorFunc func(f Feature)

// Open implements Editor.
func (fn EditorFunc) Open(f Feature) { fn(f) }

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(message string) bool

// Confirm implements Confirmer.
func (fn ConfirmFunc) Confirm(message string) bool { return fn(message) }

// ViewFunc adapts a function to View.
type ViewFunc func(entries []Entry)

// Render implements View.
func (fn ViewFunc) Render(entries []Entry) { fn(entries) }

// AlwaysConfirm accepts every confirmation, for non-interactive clients.
var AlwaysConfirm = ConfirmFunc(func(string) bool { return true })

// LogNotifier writes user messages to the global logger.
type LogNotifier struct{}

// Info implements Notifier.
func (LogNotifier) Info(msg string) { log.Info().Msg(msg) }

// Warn implements Notifier.
func (LogNotifier) Warn(msg string) { log.Warn().Msg(msg) }

// Error implements Notifier.
func (LogNotifier) Error(msg string) { log.Error().Msg(msg) }

type nopEditor struct{}

func (nopEditor) Open(Feature) {}
