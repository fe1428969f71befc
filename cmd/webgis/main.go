package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/features"
	"github.com/woozymasta/webgis/internal/logger"
	"github.com/woozymasta/webgis/internal/panel"
	"github.com/woozymasta/webgis/internal/session"
	"github.com/woozymasta/webgis/internal/transfer"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string        `short:"c" long:"config"     env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	BaseURL    string        `short:"u" long:"url"        env:"WEBGIS_URL"     description:"Backend URL, overrides the file"`
	Username   string        `short:"U" long:"user"       env:"WEBGIS_USER"    description:"Login name" required:"true"`
	Password   string        `short:"P" long:"password"   env:"WEBGIS_PASS"    description:"Login password"`
	LoadDelay  time.Duration `long:"load-delay"           env:"LOAD_DELAY"     description:"Delay of the deferred feature load, overrides the file"`
}

var opts Options

// open loads the configuration and starts a session for a subcommand.
func open(ctx context.Context, confirm features.Confirmer) (*session.Session, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if opts.BaseURL != "" {
		cfg.Client.BaseURL = opts.BaseURL
	}
	if opts.LoadDelay > 0 {
		cfg.Client.LoadDelay = opts.LoadDelay
	}

	return session.Open(ctx, cfg, session.Options{
		Username:  opts.Username,
		Password:  opts.Password,
		Confirmer: confirm,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// SyncCommand prints the layers list after loading the stored features.
type SyncCommand struct {
	JSON  bool `short:"j" long:"json"  description:"Print the list as JSON"`
	Watch bool `short:"w" long:"watch" description:"Keep running and reprint the list on every change"`
}

func (c *SyncCommand) Execute([]string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := open(ctx, nil)
	if err != nil {
		return err
	}
	if err := c.print(os.Stdout, s.Items()); err != nil {
		return err
	}
	if !c.Watch {
		return nil
	}

	err = s.Watch(ctx, func(ch api.Change) {
		log.Info().Str("action", ch.Action).Str("entity", ch.Entity).Str("id", ch.ID).Msg("Change received")
		if ch.Entity == api.EntityFeature {
			_ = c.print(os.Stdout, s.Items())
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *SyncCommand) print(w io.Writer, l panel.List) error {
	if c.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	}

	if len(l.Items) == 0 {
		_, err := fmt.Fprintln(w, l.Placeholder)
		return err
	}
	for _, it := range l.Items {
		state := "visible"
		if !it.Visible {
			state = "hidden"
		}
		if _, err := fmt.Fprintf(w, "%-28s %-12s %-8s %s\n", it.ID, it.GeometryType, state, it.Name); err != nil {
			return err
		}
	}
	return nil
}

// ExportCommand writes every feature to a file.
type ExportCommand struct {
	Format string `short:"f" long:"format" description:"Output format" choice:"geojson" choice:"kml" choice:"yaml" choice:"xlsx" choice:"shapefile" default:"geojson"`
	Output string `short:"o" long:"out"    description:"Output file, features_YYYY-MM-DD.<ext> when empty, - for stdout"`
	Minify bool   `short:"m" long:"minify" description:"Write compact GeoJSON or KML"`
}

func (c *ExportCommand) Execute([]string) error {
	format, err := transfer.ParseFormat(c.Format)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	s, err := open(ctx, nil)
	if err != nil {
		return err
	}

	if c.Output == "-" {
		w := bufio.NewWriter(os.Stdout)
		if _, err := s.Export(w, format, c.Minify); err != nil {
			return err
		}
		return w.Flush()
	}

	name := c.Output
	if name == "" {
		name = transfer.DefaultFilename(format, time.Now())
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}

	n, err := s.Export(f, format, c.Minify)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return err
	}

	log.Info().Int("features", n).Str("file", name).Msg("Features exported")
	return nil
}

// ImportCommand loads features from files.
type ImportCommand struct {
	LocalOnly bool `short:"l" long:"local-only" description:"Do not persist imported features"`
	Args      struct {
		Files []string `positional-arg-name:"FILE" required:"1"`
	} `positional-args:"yes"`
}

func (c *ImportCommand) Execute([]string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := open(ctx, nil)
	if err != nil {
		return err
	}

	var failed int
	for _, path := range c.Args.Files {
		res, err := s.Import(ctx, path, !c.LocalOnly)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Import failed")
			failed++
			continue
		}
		log.Info().
			Str("file", path).
			Int("imported", res.Imported).
			Int("skipped", res.Skipped).
			Int("persisted", res.Persisted).
			Msg("File imported")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(c.Args.Files))
	}
	return nil
}

// ClearCommand removes every feature of the user.
type ClearCommand struct {
	Yes bool `short:"y" long:"yes" description:"Do not ask for confirmation"`
}

func (c *ClearCommand) Execute([]string) error {
	ctx, stop := signalContext()
	defer stop()

	confirm := features.ConfirmFunc(func(msg string) bool {
		if c.Yes {
			return true
		}
		fmt.Fprintf(os.Stderr, "%s [s/N] ", msg)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "s" || answer == "sim" || answer == "y" || answer == "yes"
	})

	s, err := open(ctx, confirm)
	if err != nil {
		return err
	}

	n := s.Syncer.Len()
	if err := s.Clear(ctx); err != nil {
		return err
	}
	log.Info().Int("features", n).Msg("Features cleared")
	return nil
}

// LayersCommand prints the layer tree of the configured project.
type LayersCommand struct{}

func (c *LayersCommand) Execute([]string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := open(ctx, nil)
	if err != nil {
		return err
	}
	tree, err := s.Layers(ctx)
	if err != nil {
		return err
	}

	if tree.Fixture {
		log.Warn().Msg("Backend unavailable, showing offline layer fixtures")
	}
	tree.Walk(func(v panel.Visit) {
		indent := strings.Repeat("  ", v.Depth)
		if v.Group != nil {
			fmt.Printf("%s+ %s (%d)\n", indent, v.Group.Group.Label(), v.Group.Count)
			return
		}
		fmt.Printf("%s- %s [%s]\n", indent, v.Layer.Label(), v.Layer.LayerType)
	})
	return nil
}

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

	commands := []struct {
		name, short string
		data        any
	}{
		{"sync", "Load the stored features and print the layers list", &SyncCommand{}},
		{"export", "Export every feature to a file", &ExportCommand{}},
		{"import", "Import GeoJSON, KML or KMZ files", &ImportCommand{}},
		{"clear", "Remove every feature", &ClearCommand{}},
		{"layers", "Print the layer tree of the project", &LayersCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.short, c.data); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		opts.Logger.Setup()
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			os.Exit(1)
		}
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
