// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the root configuration file structure.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Map      MapConfig      `yaml:"map" json:"map"`
	Client   ClientConfig   `yaml:"client" json:"client"`
	Basemap  BasemapConfig  `yaml:"basemap" json:"basemap"`
	Users    []User         `yaml:"users" json:"-"`
}

// ServerConfig configures the REST backend.
type ServerConfig struct {
	Addr        string        `yaml:"addr" json:"addr"`
	JWTSecret   string        `yaml:"jwt_secret" json:"-"`
	TilesDir    string        `yaml:"tiles_dir" json:"tiles_dir"`
	CORSOrigins []string      `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`
	Port        int           `yaml:"port" json:"port"`
	SessionTTL  time.Duration `yaml:"session_ttl" json:"session_ttl"`
}

// DatabaseConfig selects the gorm dialect and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn" json:"-"`
}

// User is a statically configured account.
type User struct {
	Username     string          `yaml:"username" json:"username"`
	Name         string          `yaml:"name" json:"name"`
	Role         string          `yaml:"role" json:"role"`
	PasswordHash string          `yaml:"password_hash" json:"-"` // bcrypt
	Privileges   map[string]bool `yaml:"privileges,omitempty" json:"privileges,omitempty"`
}

// MapConfig holds the initial map view.
type MapConfig struct {
	TileURL     string     `yaml:"tile_url" json:"tile_url"`
	Attribution string     `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	Center      [2]float64 `yaml:"center" json:"center"` // [lat, lng]
	Zoom        int        `yaml:"zoom" json:"zoom"`
	MinZoom     int        `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom     int        `yaml:"max_zoom" json:"max_zoom"`
}

// ClientConfig tunes the headless client timings.
type ClientConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	ProjectID         string        `yaml:"project_id" json:"project_id"`
	Target            string        `yaml:"target" json:"target"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	InitInterval      time.Duration `yaml:"init_interval" json:"init_interval"`
	InitErrorInterval time.Duration `yaml:"init_error_interval" json:"init_error_interval"`
	LoadDelay         time.Duration `yaml:"load_delay" json:"load_delay"`
	AuthInterval      time.Duration `yaml:"auth_interval" json:"auth_interval"`
	InitAttempts      int           `yaml:"init_attempts" json:"init_attempts"`
	AuthAttempts      int           `yaml:"auth_attempts" json:"auth_attempts"`
	PlanarMeasure     bool          `yaml:"planar_measure" json:"planar_measure"` // flat-earth areas and lengths
}

// BasemapConfig describes the area and zooms prefetched into the tile cache.
type BasemapConfig struct {
	URL         string     `yaml:"url" json:"url"`
	Dir         string     `yaml:"dir" json:"dir"`
	BBox        [4]float64 `yaml:"bbox" json:"bbox"` // [minLng, minLat, maxLng, maxLat]
	MinZoom     int        `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom     int        `yaml:"max_zoom" json:"max_zoom"`
	Concurrency int        `yaml:"concurrency" json:"concurrency"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       "0.0.0.0",
			Port:       8080,
			SessionTTL: 12 * time.Hour,
			TilesDir:   "tiles",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "webgis.db",
		},
		Map: MapConfig{
			TileURL:     "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Attribution: "© OpenStreetMap contributors",
			Center:      [2]float64{-2.5297, -44.3028},
			Zoom:        13,
			MinZoom:     3,
			MaxZoom:     19,
		},
		Client: ClientConfig{
			BaseURL:           "http://localhost:8080",
			ProjectID:         "proj_default",
			Target:            "map",
			Timeout:           15 * time.Second,
			InitAttempts:      10,
			InitInterval:      300 * time.Millisecond,
			InitErrorInterval: 500 * time.Millisecond,
			LoadDelay:         time.Second,
			AuthAttempts:      5,
			AuthInterval:      time.Second,
		},
		Basemap: BasemapConfig{
			URL:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			Dir:         "tiles",
			BBox:        [4]float64{-44.35, -2.60, -44.20, -2.45},
			MinZoom:     10,
			MaxZoom:     15,
			Concurrency: 8,
		},
	}
}

// Load reads and parses the YAML configuration file from the specified path.
// A .env file in the working directory is loaded first and WEBGIS_* variables
// override file values. A missing configuration file leaves the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	overrideWithEnv(cfg)
	cfg.normalize()

	return cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("WEBGIS_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WEBGIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("WEBGIS_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("WEBGIS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("WEBGIS_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("WEBGIS_BASE_URL"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("WEBGIS_PROJECT_ID"); v != "" {
		cfg.Client.ProjectID = v
	}
	if v := os.Getenv("WEBGIS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.Timeout = d
		}
	}
	if v := os.Getenv("WEBGIS_PLANAR_MEASURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Client.PlanarMeasure = b
		}
	}
}

// normalize restores defaults for zero values left by a partial file.
func (c *Config) normalize() {
	def := Default()

	if c.Server.Port <= 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = def.Server.SessionTTL
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Map.MaxZoom <= 0 {
		c.Map.MaxZoom = def.Map.MaxZoom
	}
	if c.Map.Zoom <= 0 {
		c.Map.Zoom = def.Map.Zoom
	}
	if c.Client.Timeout <= 0 {
		c.Client.Timeout = def.Client.Timeout
	}
	if c.Client.InitAttempts <= 0 {
		c.Client.InitAttempts = def.Client.InitAttempts
	}
	if c.Client.InitInterval <= 0 {
		c.Client.InitInterval = def.Client.InitInterval
	}
	if c.Client.InitErrorInterval <= 0 {
		c.Client.InitErrorInterval = def.Client.InitErrorInterval
	}
	if c.Client.AuthAttempts <= 0 {
		c.Client.AuthAttempts = def.Client.AuthAttempts
	}
	if c.Client.AuthInterval <= 0 {
		c.Client.AuthInterval = def.Client.AuthInterval
	}
	if c.Client.ProjectID == "" {
		c.Client.ProjectID = def.Client.ProjectID
	}
	if c.Basemap.Concurrency <= 0 {
		c.Basemap.Concurrency = def.Basemap.Concurrency
	}
}

// FindUser returns the configured account with the given username.
func (c *Config) FindUser(username string) (User, bool) {
	for _, u := range c.Users {
		if u.Username == username {
			return u, true
		}
	}

	return User{}, false
}
