package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "heatmap_recorder.cfg.json"

// Seconds sources for the session file name.
const (
	SecondsFromCalendar = "calendar"
	SecondsFromSimClock = "simclock"
)

// HeatmapConfig holds sampling and persistence settings.
type HeatmapConfig struct {
	ProfileDir       string        `json:"profileDir" mapstructure:"profileDir"`
	Label            string        `json:"label" mapstructure:"label"`
	AutosaveInterval time.Duration `json:"autosaveInterval" mapstructure:"autosaveInterval"`
	TickTime         time.Duration `json:"tickTime" mapstructure:"tickTime"`
	TickTimeVehicle  time.Duration `json:"tickTimeVehicle" mapstructure:"tickTimeVehicle"`
	PrimeFirstSample bool          `json:"primeFirstSample" mapstructure:"primeFirstSample"`
	SecondsSource    string        `json:"secondsSource" mapstructure:"secondsSource"`
}

// SQLiteConfig holds SQLite mirror settings.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig selects the snapshot mirror backend.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB metric sink settings.
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// URL returns the server address of the InfluxDB instance.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry metric settings.
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	ExportInterval time.Duration `json:"exportInterval" mapstructure:"exportInterval"`
	MetricsFile    string        `json:"metricsFile" mapstructure:"metricsFile"`
}

// StatusConfig holds the status file monitor settings.
type StatusConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Path     string        `json:"path" mapstructure:"path"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// SetDefaults registers default values for every known key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./heatmaplogs")

	viper.SetDefault("heatmap.profileDir", "./profile/Heatmap")
	viper.SetDefault("heatmap.label", "Heatmap")
	viper.SetDefault("heatmap.autosaveInterval", "120s")
	viper.SetDefault("heatmap.tickTime", "10s")
	viper.SetDefault("heatmap.tickTimeVehicle", "2s")
	viper.SetDefault("heatmap.primeFirstSample", false)
	viper.SetDefault("heatmap.secondsSource", SecondsFromCalendar)

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.sqlite.path", "./heatmap.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "heatmap")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "heatmap-metrics")
	viper.SetDefault("influx.bucket", "heatmap_performance")
	viper.SetDefault("influx.backupDir", "./heatmaplogs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "heatmap-recorder")
	viper.SetDefault("otel.exportInterval", "30s")
	viper.SetDefault("otel.metricsFile", "")

	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.path", "./heatmaplogs/status.json")
	viper.SetDefault("status.interval", "5s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetHeatmapConfig returns sampling and persistence settings.
func GetHeatmapConfig() HeatmapConfig {
	return HeatmapConfig{
		ProfileDir:       viper.GetString("heatmap.profileDir"),
		Label:            viper.GetString("heatmap.label"),
		AutosaveInterval: viper.GetDuration("heatmap.autosaveInterval"),
		TickTime:         viper.GetDuration("heatmap.tickTime"),
		TickTimeVehicle:  viper.GetDuration("heatmap.tickTimeVehicle"),
		PrimeFirstSample: viper.GetBool("heatmap.primeFirstSample"),
		SecondsSource:    viper.GetString("heatmap.secondsSource"),
	}
}

// GetStorageConfig returns the mirror backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetDBConfig returns the Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		ExportInterval: viper.GetDuration("otel.exportInterval"),
		MetricsFile:    viper.GetString("otel.metricsFile"),
	}
}

// GetStatusConfig returns the status monitor settings.
func GetStatusConfig() StatusConfig {
	return StatusConfig{
		Enabled:  viper.GetBool("status.enabled"),
		Path:     viper.GetString("status.path"),
		Interval: viper.GetDuration("status.interval"),
	}
}
