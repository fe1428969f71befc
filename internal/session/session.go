// Package session runs the client side of the application without a
// browser: it logs in, bootstraps a headless map, attaches the feature
// syncer and keeps the layers panel projections current.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/bootstrap"
	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/features"
	"github.com/woozymasta/webgis/internal/geo"
	"github.com/woozymasta/webgis/internal/mapkit"
	"github.com/woozymasta/webgis/internal/panel"
	"github.com/woozymasta/webgis/internal/transfer"
)

// ErrNoSyncer is returned when the machine became ready without handing
// over a syncer.
var ErrNoSyncer = errors.New("feature syncer was not attached")

// Options configures Open.
type Options struct {
	Username  string
	Password  string
	Confirmer features.Confirmer
}

// Session is a logged-in, bootstrapped client.
type Session struct {
	Client  *api.Client
	Machine *bootstrap.Machine
	Syncer  *features.Syncer
	List    *panel.ListView
	User    api.User

	project string
}

// Open logs in, waits for the map to become ready and for the deferred
// feature load to finish.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	client, err := api.New(api.Options{BaseURL: cfg.Client.BaseURL, Timeout: cfg.Client.Timeout})
	if err != nil {
		return nil, err
	}

	var user api.User
	if opts.Username != "" {
		if _, err := client.Login(ctx, opts.Username, opts.Password); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		st, err := client.CheckAuth(ctx)
		if err != nil {
			return nil, fmt.Errorf("auth check: %w", err)
		}
		if st.User != nil {
			user = *st.User
		}
	}

	cc := cfg.Client
	toolkit := mapkit.NewMemory(cc.Target)
	machine := bootstrap.New(toolkit, bootstrap.Options{
		Target: cc.Target,
		View: mapkit.View{
			TileURL:     cfg.Map.TileURL,
			Attribution: cfg.Map.Attribution,
			Center:      geo.LatLng{Lat: cfg.Map.Center[0], Lng: cfg.Map.Center[1]},
			Zoom:        cfg.Map.Zoom,
			MinZoom:     cfg.Map.MinZoom,
			MaxZoom:     cfg.Map.MaxZoom,
		},
		MaxAttempts:   cc.InitAttempts,
		Interval:      cc.InitInterval,
		ErrorInterval: cc.InitErrorInterval,
		LoadDelay:     cc.LoadDelay,
	})

	var measure []geo.Option
	if cc.PlanarMeasure {
		measure = append(measure, geo.WithPlanarFallback())
	}

	list := &panel.ListView{}
	attached := features.Attach(ctx, machine, client, features.Options{
		Confirmer:    opts.Confirmer,
		Views:        []features.View{list},
		Measurer:     geo.NewMeasurer(measure...),
		AuthAttempts: cc.AuthAttempts,
		AuthInterval: cc.AuthInterval,
	})

	// loaders run in registration order, so this one fires after the
	// feature load registered by Attach
	loaded := make(chan struct{})
	machine.OnLoad(func(context.Context, *bootstrap.Context) { close(loaded) })

	machine.Start(ctx)
	if _, err := machine.Wait(ctx); err != nil {
		return nil, err
	}

	var syncer *features.Syncer
	select {
	case syncer = <-attached:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if syncer == nil {
		return nil, ErrNoSyncer
	}

	select {
	case <-loaded:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	log.Debug().
		Str("user", user.Username).
		Int("features", syncer.Len()).
		Int("attempts", machine.Attempts()).
		Msg("Session ready")

	return &Session{
		Client:  client,
		Machine: machine,
		Syncer:  syncer,
		List:    list,
		User:    user,
		project: cc.ProjectID,
	}, nil
}

// Items returns the current list view.
func (s *Session) Items() panel.List {
	return s.List.List()
}

// Reload fetches the persisted features again.
func (s *Session) Reload(ctx context.Context) (features.RehydrateResult, error) {
	return s.Syncer.LoadPersisted(ctx)
}

// Export writes every feature in the given format.
func (s *Session) Export(w io.Writer, format transfer.Format, minify bool) (int, error) {
	fc := s.Syncer.ExportAll()
	if err := transfer.Export(w, fc, format, transfer.Options{Minify: minify}); err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}

// Import reads a file and registers its features, persisting them when
// persist is set.
func (s *Session) Import(ctx context.Context, path string, persist bool) (features.ImportResult, error) {
	fc, err := transfer.ImportFile(path)
	if err != nil {
		return features.ImportResult{}, err
	}
	return s.Syncer.Import(ctx, fc, persist)
}

// Clear removes every feature after confirmation.
func (s *Session) Clear(ctx context.Context) error {
	return s.Syncer.ClearAll(ctx)
}

// Layers builds the layer tree of the configured project with every group
// expanded.
func (s *Session) Layers(ctx context.Context) (*panel.Tree, error) {
	tree, err := panel.NewSource(s.Client, s.project).Tree(ctx)
	if err != nil {
		return nil, err
	}
	tree.Walk(func(v panel.Visit) {
		if v.Group != nil {
			_ = tree.Expand(v.Group.Group.ID)
		}
	})
	return tree, nil
}

// Watch reloads the feature set on every feature change pushed by the
// backend and reports each change to fn. It returns when ctx is done or
// the stream drops.
func (s *Session) Watch(ctx context.Context, fn func(api.Change)) error {
	return s.Client.Watch(ctx, func(ch api.Change) {
		if ch.Entity == api.EntityFeature {
			if _, err := s.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("Reload after change failed")
			}
		}
		if fn != nil {
			fn(ch)
		}
	})
}
