package server

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/store"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config *config.Config
	Store  *store.Store
	Hub    *Hub
	Pages  *Pages
	now    func() time.Time
	secret []byte
}

// NewServerContext renders the pages and starts the change hub.
func NewServerContext(cfg *config.Config, st *store.Store) (*ServerContext, error) {
	log.Info().Int("users", len(cfg.Users)).Msg("Initializing server context")

	pages, err := BuildPages(cfg.Map)
	if err != nil {
		return nil, err
	}

	secret := []byte(cfg.Server.JWTSecret)
	if len(secret) == 0 {
		if secret, err = randomSecret(); err != nil {
			return nil, err
		}
		log.Warn().Msg("No JWT secret configured, sessions will not survive a restart")
	}
	if len(cfg.Users) == 0 {
		log.Warn().Msg("No users configured, login is disabled")
	}

	log.Debug().
		Int("index_bytes", len(pages.Index)).
		Int("login_bytes", len(pages.Login)).
		Msg("Pages rendered")

	return &ServerContext{
		Config: cfg,
		Store:  st,
		Hub:    NewHub(),
		Pages:  pages,
		now:    time.Now,
		secret: secret,
	}, nil
}

// Close stops the change hub.
func (s *ServerContext) Close() {
	s.Hub.Close()
}
