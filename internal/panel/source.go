package panel

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/catalog"
	"golang.org/x/sync/errgroup"
)

// Fetcher loads project layer metadata. *api.Client satisfies it.
type Fetcher interface {
	LayerGroups(ctx context.Context, projectID string) ([]catalog.LayerGroup, error)
	Layers(ctx context.Context, projectID string) ([]catalog.Layer, error)
}

// Source builds the tree of a project, falling back to the offline
// fixtures when the backend cannot be reached.
type Source struct {
	fetcher   Fetcher
	projectID string
}

// NewSource returns a Source for a project. An empty id selects the default
// project.
func NewSource(f Fetcher, projectID string) *Source {
	if projectID == "" {
		projectID = catalog.DefaultProject
	}
	return &Source{fetcher: f, projectID: projectID}
}

// Tree fetches groups and layers concurrently and builds the tree.
func (s *Source) Tree(ctx context.Context) (*Tree, error) {
	var (
		groups []catalog.LayerGroup
		layers []catalog.Layer
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		groups, err = s.fetcher.LayerGroups(gctx, s.projectID)
		return err
	})
	g.Go(func() (err error) {
		layers, err = s.fetcher.Layers(gctx, s.projectID)
		return err
	})

	fixture := false
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("project", s.projectID).Msg("Layer metadata unavailable, using fixtures")
		groups = catalog.FixtureGroups(s.projectID)
		layers = catalog.FixtureLayers(s.projectID)
		fixture = true
	}

	t, err := BuildTree(groups, layers)
	if err != nil {
		return nil, err
	}
	t.Fixture = fixture
	return t, nil
}
