package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Auth        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Indexer     IndexerConfig     `mapstructure:"indexer" yaml:"indexer"`
	Content     ContentConfig     `mapstructure:"content" yaml:"content"`
	Scraping    ScrapingConfig    `mapstructure:"scraping" yaml:"scraping"`
	Downloaders DownloadersConfig `mapstructure:"downloaders" yaml:"downloaders"`
	Symlink     SymlinkConfig     `mapstructure:"symlink" yaml:"symlink"`
	Updaters    UpdatersConfig    `mapstructure:"updaters" yaml:"updaters"`
	Subtitles   SubtitlesConfig   `mapstructure:"subtitles" yaml:"subtitles"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	APIKey       string `mapstructure:"api_key" yaml:"api_key"`
	JWTSecret    string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
}

// IndexerConfig holds metadata indexer configuration.
type IndexerConfig struct {
	Trakt TraktIndexerConfig `mapstructure:"trakt" yaml:"trakt"`
}

// TraktIndexerConfig holds Trakt API configuration for metadata lookups.
type TraktIndexerConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	UpdateInterval string `mapstructure:"update_interval" yaml:"update_interval"`
}

// ContentConfig holds content-source configuration.
type ContentConfig struct {
	Overseerr     OverseerrConfig     `mapstructure:"overseerr" yaml:"overseerr"`
	PlexWatchlist PlexWatchlistConfig `mapstructure:"plex_watchlist" yaml:"plex_watchlist"`
	Listrr        ListrrConfig        `mapstructure:"listrr" yaml:"listrr"`
	Mdblist       MdblistConfig       `mapstructure:"mdblist" yaml:"mdblist"`
	Trakt         TraktContentConfig  `mapstructure:"trakt" yaml:"trakt"`
}

// OverseerrConfig holds Overseerr content-source configuration.
type OverseerrConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	URL            string `mapstructure:"url" yaml:"url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	UpdateInterval string `mapstructure:"update_interval" yaml:"update_interval"`
	DeleteMissing  bool   `mapstructure:"delete_missing" yaml:"delete_missing"`
}

// PlexWatchlistConfig holds Plex watchlist content-source configuration.
type PlexWatchlistConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Token          string   `mapstructure:"token" yaml:"token"`
	RSS            []string `mapstructure:"rss" yaml:"rss"`
	UpdateInterval string   `mapstructure:"update_interval" yaml:"update_interval"`
}

// ListrrConfig holds Listrr content-source configuration.
type ListrrConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	APIKey         string   `mapstructure:"api_key" yaml:"api_key"`
	MovieLists     []string `mapstructure:"movie_lists" yaml:"movie_lists"`
	ShowLists      []string `mapstructure:"show_lists" yaml:"show_lists"`
	UpdateInterval string   `mapstructure:"update_interval" yaml:"update_interval"`
}

// MdblistConfig holds Mdblist content-source configuration.
type MdblistConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	APIKey         string   `mapstructure:"api_key" yaml:"api_key"`
	Lists          []string `mapstructure:"lists" yaml:"lists"`
	UpdateInterval string   `mapstructure:"update_interval" yaml:"update_interval"`
}

// TraktContentConfig holds Trakt list content-source configuration.
type TraktContentConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	APIKey         string   `mapstructure:"api_key" yaml:"api_key"`
	Watchlist      []string `mapstructure:"watchlist" yaml:"watchlist"`
	Collection     []string `mapstructure:"collection" yaml:"collection"`
	UserLists      []string `mapstructure:"user_lists" yaml:"user_lists"`
	UpdateInterval string   `mapstructure:"update_interval" yaml:"update_interval"`
}

// ScrapingConfig holds scraper configuration and the shared backoff ladder.
type ScrapingConfig struct {
	// Hours between scrape attempts once an item has failed 2, 5, and 10
	// times respectively. The first two retries use a flat 5 seconds.
	After2  float64 `mapstructure:"after_2" yaml:"after_2"`
	After5  float64 `mapstructure:"after_5" yaml:"after_5"`
	After10 float64 `mapstructure:"after_10" yaml:"after_10"`

	Parser ParserConfig `mapstructure:"parser" yaml:"parser"`

	Torrentio   TorrentioConfig   `mapstructure:"torrentio" yaml:"torrentio"`
	Orionoid    OrionoidConfig    `mapstructure:"orionoid" yaml:"orionoid"`
	Jackett     JackettConfig     `mapstructure:"jackett" yaml:"jackett"`
	Mediafusion MediafusionConfig `mapstructure:"mediafusion" yaml:"mediafusion"`
	Comet       CometConfig       `mapstructure:"comet" yaml:"comet"`
	Torbox      TorboxConfig      `mapstructure:"torbox" yaml:"torbox"`
}

// ParserConfig tunes release ranking.
type ParserConfig struct {
	HighestQuality bool `mapstructure:"highest_quality" yaml:"highest_quality"`
	Include4K      bool `mapstructure:"include_4k" yaml:"include_4k"`
	RepackProper   bool `mapstructure:"repack_proper" yaml:"repack_proper"`
}

// TorrentioConfig holds Torrentio scraper configuration.
type TorrentioConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	URL            string `mapstructure:"url" yaml:"url"`
	Filter         string `mapstructure:"filter" yaml:"filter"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// OrionoidConfig holds Orionoid scraper configuration.
type OrionoidConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// JackettConfig holds Jackett scraper configuration.
type JackettConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	URL            string `mapstructure:"url" yaml:"url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// MaxCalls requests per Period seconds, shared across indexers.
	MaxCalls      int `mapstructure:"max_calls" yaml:"max_calls"`
	PeriodSeconds int `mapstructure:"period_seconds" yaml:"period_seconds"`
}

// MediafusionConfig holds Mediafusion scraper configuration.
type MediafusionConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	URL            string `mapstructure:"url" yaml:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// CometConfig holds Comet scraper configuration.
type CometConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	URL            string `mapstructure:"url" yaml:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// TorboxConfig holds TorBox search scraper configuration.
type TorboxConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	URL            string `mapstructure:"url" yaml:"url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// DownloadersConfig holds debrid provider configuration and file filters.
type DownloadersConfig struct {
	VideoExtensions      []string         `mapstructure:"video_extensions" yaml:"video_extensions"`
	MovieFilesizeMBMin   int              `mapstructure:"movie_filesize_mb_min" yaml:"movie_filesize_mb_min"`
	MovieFilesizeMBMax   int              `mapstructure:"movie_filesize_mb_max" yaml:"movie_filesize_mb_max"`
	EpisodeFilesizeMBMin int              `mapstructure:"episode_filesize_mb_min" yaml:"episode_filesize_mb_min"`
	EpisodeFilesizeMBMax int              `mapstructure:"episode_filesize_mb_max" yaml:"episode_filesize_mb_max"`
	RealDebrid           RealDebridConfig `mapstructure:"real_debrid" yaml:"real_debrid"`
	AllDebrid            AllDebridConfig  `mapstructure:"all_debrid" yaml:"all_debrid"`
}

// RealDebridConfig holds Real-Debrid provider configuration.
type RealDebridConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// AllDebridConfig holds AllDebrid provider configuration.
type AllDebridConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// SymlinkConfig holds symlink materializer configuration.
type SymlinkConfig struct {
	RclonePath          string  `mapstructure:"rclone_path" yaml:"rclone_path"`
	LibraryPath         string  `mapstructure:"library_path" yaml:"library_path"`
	SeparateAnimeDirs   bool    `mapstructure:"separate_anime_dirs" yaml:"separate_anime_dirs"`
	RepairIntervalHours float64 `mapstructure:"repair_interval_hours" yaml:"repair_interval_hours"`
	// MaxWorkers bounds the boot reconciliation pool.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`
}

// UpdatersConfig holds library updater configuration.
type UpdatersConfig struct {
	Plex     PlexUpdaterConfig     `mapstructure:"plex" yaml:"plex"`
	Jellyfin JellyfinUpdaterConfig `mapstructure:"jellyfin" yaml:"jellyfin"`
}

// PlexUpdaterConfig holds Plex library refresh configuration.
type PlexUpdaterConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Token   string `mapstructure:"token" yaml:"token"`
}

// JellyfinUpdaterConfig holds Jellyfin library refresh configuration.
type JellyfinUpdaterConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// SubtitlesConfig holds post-processing configuration.
type SubtitlesConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	// A .env alongside the binary seeds the environment before viper reads it.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.streamfall")
	}

	v.SetEnvPrefix("STREAMFALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration back to disk as YAML.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = "config.yaml"
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.path", "./data/streamfall.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "./data/logs")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	// Auth defaults
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password_hash", "")

	// Indexer defaults
	v.SetDefault("indexer.trakt.api_key", "")
	v.SetDefault("indexer.trakt.update_interval", "24h")

	// Content source defaults
	v.SetDefault("content.overseerr.enabled", false)
	v.SetDefault("content.overseerr.url", "http://localhost:5055")
	v.SetDefault("content.overseerr.update_interval", "80s")
	v.SetDefault("content.overseerr.delete_missing", false)
	v.SetDefault("content.plex_watchlist.enabled", false)
	v.SetDefault("content.plex_watchlist.update_interval", "80s")
	v.SetDefault("content.listrr.enabled", false)
	v.SetDefault("content.listrr.update_interval", "5m")
	v.SetDefault("content.mdblist.enabled", false)
	v.SetDefault("content.mdblist.update_interval", "5m")
	v.SetDefault("content.trakt.enabled", false)
	v.SetDefault("content.trakt.update_interval", "15m")

	// Scraping defaults
	v.SetDefault("scraping.after_2", 0.5)
	v.SetDefault("scraping.after_5", 2.0)
	v.SetDefault("scraping.after_10", 24.0)
	v.SetDefault("scraping.parser.highest_quality", false)
	v.SetDefault("scraping.parser.include_4k", false)
	v.SetDefault("scraping.parser.repack_proper", true)
	v.SetDefault("scraping.torrentio.enabled", false)
	v.SetDefault("scraping.torrentio.url", "https://torrentio.strem.fun")
	v.SetDefault("scraping.torrentio.filter", "sort=qualitysize%7Cqualityfilter=480p,scr,cam,unknown")
	v.SetDefault("scraping.torrentio.timeout_seconds", 30)
	v.SetDefault("scraping.orionoid.enabled", false)
	v.SetDefault("scraping.orionoid.timeout_seconds", 30)
	v.SetDefault("scraping.jackett.enabled", false)
	v.SetDefault("scraping.jackett.url", "http://localhost:9117")
	v.SetDefault("scraping.jackett.timeout_seconds", 30)
	v.SetDefault("scraping.jackett.max_calls", 60)
	v.SetDefault("scraping.jackett.period_seconds", 60)
	v.SetDefault("scraping.mediafusion.enabled", false)
	v.SetDefault("scraping.mediafusion.url", "https://mediafusion.elfhosted.com")
	v.SetDefault("scraping.mediafusion.timeout_seconds", 30)
	v.SetDefault("scraping.comet.enabled", false)
	v.SetDefault("scraping.comet.url", "https://comet.elfhosted.com")
	v.SetDefault("scraping.comet.timeout_seconds", 30)
	v.SetDefault("scraping.torbox.enabled", false)
	v.SetDefault("scraping.torbox.url", "https://search-api.torbox.app")
	v.SetDefault("scraping.torbox.timeout_seconds", 30)

	// Downloader defaults
	v.SetDefault("downloaders.video_extensions", []string{"mp4", "mkv", "avi"})
	v.SetDefault("downloaders.movie_filesize_mb_min", 200)
	v.SetDefault("downloaders.movie_filesize_mb_max", -1)
	v.SetDefault("downloaders.episode_filesize_mb_min", 40)
	v.SetDefault("downloaders.episode_filesize_mb_max", -1)
	v.SetDefault("downloaders.real_debrid.enabled", false)
	v.SetDefault("downloaders.real_debrid.url", "https://api.real-debrid.com/rest/1.0")
	v.SetDefault("downloaders.all_debrid.enabled", false)
	v.SetDefault("downloaders.all_debrid.url", "https://api.alldebrid.com/v4")

	// Symlink defaults
	v.SetDefault("symlink.rclone_path", "")
	v.SetDefault("symlink.library_path", "")
	v.SetDefault("symlink.separate_anime_dirs", true)
	v.SetDefault("symlink.repair_interval_hours", 6.0)
	v.SetDefault("symlink.max_workers", 4)

	// Updater defaults
	v.SetDefault("updaters.plex.enabled", false)
	v.SetDefault("updaters.plex.url", "http://localhost:32400")
	v.SetDefault("updaters.jellyfin.enabled", false)
	v.SetDefault("updaters.jellyfin.url", "http://localhost:8096")

	// Subtitle defaults
	v.SetDefault("subtitles.enabled", false)
	v.SetDefault("subtitles.languages", []string{"eng"})
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FindAvailablePort probes ports starting at preferred and returns the first
// one that can be bound, trying up to attempts ports.
func FindAvailablePort(preferred, attempts int) (int, error) {
	for port := preferred; port < preferred+attempts; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no available port in range %d-%d", preferred, preferred+attempts-1)
}
