// Package config loads the pyramid builder settings from defaults, an
// optional config file, ZARR_PYRAMID_* environment variables and command
// line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	zarr "github.com/zarrgl/zarr-go"
	"github.com/zarrgl/zarr-go/pyramid"
	"github.com/zarrgl/zarr-go/raster"
)

// EnvPrefix prefixes environment variables, e.g. ZARR_PYRAMID_LEVELS
const EnvPrefix = "ZARR_PYRAMID"

// Keys shared by flags, config files and the environment
const (
	KeyOutput        = "output"
	KeyLevels        = "levels"
	KeyResampling    = "resampling"
	KeyConvention    = "convention"
	KeyPixelsPerTile = "pixels-per-tile"
	KeyCRS           = "crs"
	KeyConsolidated  = "consolidated"
	KeyMode          = "mode"
	KeyCompressor    = "compressor"
	KeyVariable      = "variable"
	KeyWorkers       = "workers"
	KeyLogLevel      = "log-level"
	KeyLogFormat     = "log-format"
)

type Config struct {
	Output        string `mapstructure:"output"`
	Levels        int    `mapstructure:"levels"`
	Resampling    string `mapstructure:"resampling"`
	Convention    string `mapstructure:"convention"`
	PixelsPerTile int    `mapstructure:"pixels-per-tile"`
	CRS           string `mapstructure:"crs"`
	Consolidated  bool   `mapstructure:"consolidated"`
	Mode          string `mapstructure:"mode"`
	Compressor    string `mapstructure:"compressor"`
	Variable      string `mapstructure:"variable"`
	Workers       int    `mapstructure:"workers"`
	LogLevel      string `mapstructure:"log-level"`
	LogFormat     string `mapstructure:"log-format"`
}

// Default returns the settings of the example pyramid: six bilinear levels
// of the global grid, written consolidated in overwrite mode
func Default() Config {
	return Config{
		Output:        "example.zarr",
		Levels:        pyramid.DefaultLevels,
		Resampling:    string(raster.Bilinear),
		Convention:    string(pyramid.Coarsen),
		PixelsPerTile: pyramid.DefaultPixelsPerTile,
		CRS:           raster.EPSG4326,
		Consolidated:  true,
		Mode:          string(zarr.ModeWrite),
		Compressor:    zarr.CompressorZstd,
		Variable:      raster.BaseVariable,
		Workers:       0,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// New returns a viper instance with defaults and environment lookup set up
func New() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault(KeyOutput, d.Output)
	v.SetDefault(KeyLevels, d.Levels)
	v.SetDefault(KeyResampling, d.Resampling)
	v.SetDefault(KeyConvention, d.Convention)
	v.SetDefault(KeyPixelsPerTile, d.PixelsPerTile)
	v.SetDefault(KeyCRS, d.CRS)
	v.SetDefault(KeyConsolidated, d.Consolidated)
	v.SetDefault(KeyMode, d.Mode)
	v.SetDefault(KeyCompressor, d.Compressor)
	v.SetDefault(KeyVariable, d.Variable)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, if set, into v and decodes the merged settings
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %q: %w", file, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the builder cannot run with
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, errors.New("output is required"))
	}
	if c.Levels < 1 || c.Levels > pyramid.MaxLevels {
		errs = append(errs, fmt.Errorf("levels must be between 1 and %d, got %d", pyramid.MaxLevels, c.Levels))
	}
	if _, err := raster.ParseResampling(c.Resampling); err != nil {
		errs = append(errs, err)
	}
	if _, err := pyramid.ParseConvention(c.Convention); err != nil {
		errs = append(errs, err)
	}
	if c.PixelsPerTile < 1 {
		errs = append(errs, fmt.Errorf("pixels-per-tile must be positive, got %d", c.PixelsPerTile))
	}
	if _, err := raster.ParseCRS(c.CRS); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PersistenceMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := zarr.NewCompressionMeta(c.Compressor); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Variable) == "" {
		errs = append(errs, errors.New("variable is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log-format must be text or json, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// PersistenceMode is the write mode, one of "w", "w-" or "a"
func (c *Config) PersistenceMode() (zarr.PersistenceMode, error) {
	m, err := zarr.ParsePersistenceMode(c.Mode)
	if err != nil {
		return "", err
	}
	switch m {
	case zarr.ModeWrite, zarr.ModeWriteFail, zarr.ModeReadWriteCreate:
		return m, nil
	}
	return "", fmt.Errorf("mode %q cannot write a pyramid", m)
}

// Logger builds the logger described by the log settings
func (c *Config) Logger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(lvl)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
