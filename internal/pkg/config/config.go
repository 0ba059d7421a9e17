package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Location sources.
const (
	SourcePostgres = "postgres"
	SourceSupabase = "supabase"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Map        MapConfig        `mapstructure:"map"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Valkey     ValkeyConfig     `mapstructure:"valkey"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	CORSOrigins  string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// SupabaseConfig addresses a Supabase project's REST endpoint.
type SupabaseConfig struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
	Timeout int    `mapstructure:"timeout"`
}

// RepositoryConfig selects where locations come from and how their columns
// are named.
type RepositoryConfig struct {
	Source   string        `mapstructure:"source"`
	Table    string        `mapstructure:"table"`
	Columns  ColumnsConfig `mapstructure:"columns"`
	CacheTTL int           `mapstructure:"cache_ttl"`

	// AttributeColumns lists extra columns shown in popups, each as
	// "column:label".
	AttributeColumns []string `mapstructure:"attribute_columns"`
}

type ColumnsConfig struct {
	ID           string `mapstructure:"id"`
	Organization string `mapstructure:"organization"`
	Name         string `mapstructure:"name"`
	Geometry     string `mapstructure:"geometry"`
	// Legacy is a text column holding "lat,lng" for rows without geometry.
	// Postgres only; empty disables it.
	Legacy string `mapstructure:"legacy"`
}

// AttributeLabels maps each attribute column to its popup label. A column
// without a label is labeled by its own name.
func (r RepositoryConfig) AttributeLabels() map[string]string {
	out := make(map[string]string, len(r.AttributeColumns))
	for _, spec := range r.AttributeColumns {
		col, label, ok := strings.Cut(spec, ":")
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if !ok || strings.TrimSpace(label) == "" {
			label = col
		}
		out[col] = strings.TrimSpace(label)
	}
	return out
}

// MapConfig holds the initial view and rendering options.
type MapConfig struct {
	CenterLat    float64 `mapstructure:"center_lat"`
	CenterLon    float64 `mapstructure:"center_lon"`
	Zoom         float64 `mapstructure:"zoom"`
	MinZoom      float64 `mapstructure:"min_zoom"`
	MaxZoom      float64 `mapstructure:"max_zoom"`
	ZoomSnap     float64 `mapstructure:"zoom_snap"`
	FocusZoom    float64 `mapstructure:"focus_zoom"`
	Padding      int     `mapstructure:"padding"`
	Width        int     `mapstructure:"width"`
	Height       int     `mapstructure:"height"`
	Containment  string  `mapstructure:"containment"`
	MarkerIcon   string  `mapstructure:"marker_icon"`
	MarkerSize   int     `mapstructure:"marker_size"`
	PolygonColor string  `mapstructure:"polygon_color"`
	FillColor    string  `mapstructure:"fill_color"`
	FillOpacity  float64 `mapstructure:"fill_opacity"`

	// SessionIdleTTL is in seconds; 0 keeps idle sessions forever.
	SessionIdleTTL int `mapstructure:"session_idle_ttl"`
	MaxSessions    int `mapstructure:"max_sessions"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// Load reads configuration from .env, file and environment variables.
func Load(service string) (*Config, error) {
	// Supabase keys usually live in .env next to the binary.
	_ = godotenv.Load(".env")

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.cors_origins", "http://localhost:3000, http://localhost:5173")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wilus")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "wilusmap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.anon_key", "")
	v.SetDefault("supabase.timeout", 10)
	v.SetDefault("repository.source", SourcePostgres)
	v.SetDefault("repository.table", "locations")
	v.SetDefault("repository.columns.id", "id")
	v.SetDefault("repository.columns.organization", "Pemegang Wilus")
	v.SetDefault("repository.columns.name", "Nama Lokasi")
	v.SetDefault("repository.columns.geometry", "geom")
	v.SetDefault("repository.columns.legacy", "coords")
	v.SetDefault("repository.attribute_columns", []string{"UID:PLN UID"})
	v.SetDefault("repository.cache_ttl", 300)
	v.SetDefault("map.center_lat", -6.2088)
	v.SetDefault("map.center_lon", 106.8456)
	v.SetDefault("map.zoom", 6)
	v.SetDefault("map.min_zoom", 0)
	v.SetDefault("map.max_zoom", 18)
	v.SetDefault("map.zoom_snap", 0.5)
	v.SetDefault("map.focus_zoom", 14)
	v.SetDefault("map.padding", 20)
	v.SetDefault("map.width", 1024)
	v.SetDefault("map.height", 768)
	v.SetDefault("map.containment", "bbox")
	v.SetDefault("map.marker_icon", "images/marker.png")
	v.SetDefault("map.marker_size", 40)
	v.SetDefault("map.polygon_color", "blue")
	v.SetDefault("map.fill_color", "blue")
	v.SetDefault("map.fill_opacity", 0.3)
	v.SetDefault("map.session_idle_ttl", 1800)
	v.SetDefault("map.max_sessions", 1000)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.key_prefix", "wilusmap:")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: WILUSMAP_SUPABASE_ANON_KEY → supabase.anon_key
	v.SetEnvPrefix("WILUSMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Repository.Source {
	case SourcePostgres:
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	case SourceSupabase:
		if c.Supabase.URL == "" {
			errs = append(errs, "supabase.url is required when repository.source is supabase")
		}
		if c.Supabase.AnonKey == "" {
			errs = append(errs, "supabase.anon_key is required when repository.source is supabase")
		}
	default:
		errs = append(errs, fmt.Sprintf("repository.source must be %q or %q, got %q", SourcePostgres, SourceSupabase, c.Repository.Source))
	}

	if c.Repository.Table == "" {
		errs = append(errs, "repository.table is required")
	}
	cols := c.Repository.Columns
	if cols.Organization == "" || cols.Name == "" || cols.Geometry == "" {
		errs = append(errs, "repository.columns.organization, name and geometry are required")
	}

	if c.Map.MinZoom < 0 || c.Map.MaxZoom < c.Map.MinZoom {
		errs = append(errs, fmt.Sprintf("map zoom range %v-%v is invalid", c.Map.MinZoom, c.Map.MaxZoom))
	}
	if c.Map.Zoom < c.Map.MinZoom || c.Map.Zoom > c.Map.MaxZoom {
		errs = append(errs, fmt.Sprintf("map.zoom must be within %v-%v", c.Map.MinZoom, c.Map.MaxZoom))
	}
	if c.Map.Width <= 2*c.Map.Padding || c.Map.Height <= 2*c.Map.Padding {
		errs = append(errs, "map.width and map.height must exceed twice map.padding")
	}
	if c.Map.Containment != "bbox" && c.Map.Containment != "exact" {
		errs = append(errs, fmt.Sprintf("map.containment must be bbox or exact, got %q", c.Map.Containment))
	}
	if c.Map.SessionIdleTTL < 0 {
		errs = append(errs, "map.session_idle_ttl must be >= 0")
	}
	if c.Map.MaxSessions < 0 {
		errs = append(errs, "map.max_sessions must be >= 0")
	}

	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
