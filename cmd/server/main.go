package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/logger"
	"github.com/woozymasta/webgis/internal/server"
	"github.com/woozymasta/webgis/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"        env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	Addr       string `short:"a" long:"addr"          env:"LISTEN_ADDRESS" description:"Address to listen on, overrides the file"`
	Port       int    `short:"p" long:"port"          env:"LISTEN_PORT"    description:"Port to listen on, overrides the file"`
	Project    string `long:"seed-project"            env:"SEED_PROJECT"   description:"Project seeded with the default layer groups" default:"proj_default"`
	HashPass   string `long:"hash-password"                                description:"Print the bcrypt hash of a password and exit"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	if opts.HashPass != "" {
		hash, err := server.HashPassword(opts.HashPass)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open database")
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if seeded, err := st.SeedProject(ctx, opts.Project); err != nil {
		log.Error().Err(err).Str("project", opts.Project).Msg("Failed to seed project")
	} else if seeded {
		log.Info().Str("project", opts.Project).Msg("Project seeded with default layer groups")
	}

	srvCtx, err := server.NewServerContext(cfg, st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srvCtx.Close()

	if opts.Logger.Level != "debug" && opts.Logger.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Addr, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().
		Str("addr", listenAddr).
		Str("driver", cfg.Database.Driver).
		Str("tiles", cfg.Server.TilesDir).
		Int("users", len(cfg.Users)).
		Msg("Web server started")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Web server stopped")
}
