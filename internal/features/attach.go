package features

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/bootstrap"
)

// Attach builds a Syncer once m publishes readiness, routes drawing events
// into it and registers the deferred bulk load. The channel receives the
// Syncer exactly once.
func Attach(ctx context.Context, m *bootstrap.Machine, backend Backend, opts Options) <-chan *Syncer {
	out := make(chan *Syncer, 1)
	var cur atomic.Pointer[Syncer]

	m.OnWebGISReady(func(bootstrap.WebGISReady) {
		app, ok := m.Context()
		if !ok {
			return
		}
		s := New(app, backend, opts)
		s.Listen(ctx)
		cur.Store(s)
		out <- s
	})

	m.OnLoad(func(ctx context.Context, _ *bootstrap.Context) {
		s := cur.Load()
		if s == nil {
			log.Error().Msg("Feature load fired before the syncer was attached")
			return
		}
		if _, err := s.LoadPersisted(ctx); err != nil {
			log.Debug().Err(err).Msg("Deferred feature load finished with error")
		}
	})

	return out
}
