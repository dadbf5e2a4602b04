package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

type Config struct {
	HTTPAddr string `toml:"http_addr"`
	GRPCAddr string `toml:"grpc_addr"` // "" disables the gRPC listener

	Env      string `toml:"env"`      // "dev" | "prod"
	SeedDev  bool   `toml:"seed_dev"` // dev only: demo records in an empty sqlite store
	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`

	// Timezone names the location used for calendar-day comparison.
	// Empty means the process local zone.
	Timezone  string `toml:"timezone"`
	ExportDir string `toml:"export_dir"`

	// Scan session history retention
	SessionRetentionDays int `toml:"session_retention_days"` // 0 = keep forever
	PruneIntervalHours   int `toml:"prune_interval_hours"`   // pause between session history trims (default 6)

	Storage StorageConfig `toml:"storage"`
	Scanner ScannerConfig `toml:"scanner"`
}

type StorageConfig struct {
	Backend  string `toml:"backend"` // "sqlite" | "file" | "mongo" | "memory"
	DBPath   string `toml:"db_path"`
	DataDir  string `toml:"data_dir"`
	MongoURI string `toml:"mongo_uri"`
	MongoDB  string `toml:"mongo_db"`
}

type ScannerConfig struct {
	Source          string `toml:"source"` // "camera" | "images"
	CameraDevice    int    `toml:"camera_device"`
	ImageDir        string `toml:"image_dir"`
	FrameIntervalMS int    `toml:"frame_interval_ms"`
	CooldownMS      int    `toml:"cooldown_ms"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:  ":8080",
		GRPCAddr:  ":9090",
		Env:       "dev",
		LogLevel:  "info",
		ExportDir: "./exports",

		SessionRetentionDays: 30,
		PruneIntervalHours:   6,

		Storage: StorageConfig{
			Backend:  "sqlite",
			DBPath:   "./data/rollcall.db",
			DataDir:  "./data",
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "rollcall",
		},
		Scanner: ScannerConfig{
			Source:          "camera",
			ImageDir:        "./frames",
			FrameIntervalMS: 33,
			CooldownMS:      2000,
		},
	}
}

// FromEnv returns the defaults overridden by ROLLCALL_* variables.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	cfg.normalize()
	return cfg
}

// Load reads the TOML file named by ROLLCALL_CONFIG (if any) from the OS
// filesystem, then applies environment overrides.
func Load() (Config, error) {
	return LoadFS(afero.NewOsFs())
}

func LoadFS(fsys afero.Fs) (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("ROLLCALL_CONFIG")); path != "" {
		f, err := fsys.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()

		if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (s ScannerConfig) FrameInterval() time.Duration {
	return time.Duration(s.FrameIntervalMS) * time.Millisecond
}

func (s ScannerConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownMS) * time.Millisecond
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("ROLLCALL_HTTP_ADDR", c.HTTPAddr)
	if v, ok := os.LookupEnv("ROLLCALL_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	c.Env = getenvDefault("ROLLCALL_ENV", c.Env)
	c.SeedDev = getenvBool("ROLLCALL_SEED_DEV", c.SeedDev)
	c.LogLevel = getenvDefault("ROLLCALL_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getenvBool("ROLLCALL_LOG_JSON", c.LogJSON)
	c.Timezone = getenvDefault("ROLLCALL_TIMEZONE", c.Timezone)
	c.ExportDir = getenvDefault("ROLLCALL_EXPORT_DIR", c.ExportDir)
	c.SessionRetentionDays = getenvInt("ROLLCALL_SESSION_RETENTION_DAYS", c.SessionRetentionDays)
	c.PruneIntervalHours = getenvInt("ROLLCALL_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)

	c.Storage.Backend = getenvDefault("ROLLCALL_STORAGE", c.Storage.Backend)
	c.Storage.DBPath = getenvDefault("ROLLCALL_DB_PATH", c.Storage.DBPath)
	c.Storage.DataDir = getenvDefault("ROLLCALL_DATA_DIR", c.Storage.DataDir)
	c.Storage.MongoURI = getenvDefault("ROLLCALL_MONGO_URI", c.Storage.MongoURI)
	c.Storage.MongoDB = getenvDefault("ROLLCALL_MONGO_DB", c.Storage.MongoDB)

	c.Scanner.Source = getenvDefault("ROLLCALL_SOURCE", c.Scanner.Source)
	c.Scanner.CameraDevice = getenvInt("ROLLCALL_CAMERA_DEVICE", c.Scanner.CameraDevice)
	c.Scanner.ImageDir = getenvDefault("ROLLCALL_IMAGE_DIR", c.Scanner.ImageDir)
	c.Scanner.FrameIntervalMS = getenvInt("ROLLCALL_FRAME_INTERVAL_MS", c.Scanner.FrameIntervalMS)
	c.Scanner.CooldownMS = getenvInt("ROLLCALL_COOLDOWN_MS", c.Scanner.CooldownMS)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(c.Env)
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Scanner.Source = strings.ToLower(strings.TrimSpace(c.Scanner.Source))

	def := Defaults().Scanner
	if c.Scanner.FrameIntervalMS <= 0 {
		c.Scanner.FrameIntervalMS = def.FrameIntervalMS
	}
	if c.Scanner.CooldownMS <= 0 {
		c.Scanner.CooldownMS = def.CooldownMS
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}
