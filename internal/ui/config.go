package ui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var errNoConfigFile = fmt.Errorf("no config file loaded")

const configName = "irclog"

type Config struct {
	// where the account directories live (relative to cwd supported)
	LogsRoot string `validate:"path_exists" yaml:"logs_root"`
	// the account label, its channels are stored in "<account>-channels"
	Account string `validate:"required,dir_name" yaml:"account"`
	// how many segments a search decodes at once,
	// defaults to the number of cores if omitted or <1.
	Concurrency int `yaml:"concurrency"`
	// decoded segments kept in memory between searches, 0 disables the cache
	CacheSegments int `validate:"min=0" yaml:"cache_segments"`
	// where the HTTP API listens, example: "127.0.0.1:8393"
	HttpAddr string `validate:"required" yaml:"http_addr"`
	// how often the server writes pending messages to disk
	CommitIntervalSec int `validate:"min=1" yaml:"commit_interval_sec"`
	// how long the server waits for a burst of file changes to settle before re-listing segments
	WatchDebounceMs int `validate:"min=0" yaml:"watch_debounce_ms"`
	// logging preset: prod or dev
	Env string `validate:"oneof=prod dev" yaml:"env"`
}

func (cfg Config) CommitInterval() time.Duration {
	return time.Duration(cfg.CommitIntervalSec) * time.Second
}

func (cfg Config) WatchDebounce() time.Duration {
	return time.Duration(cfg.WatchDebounceMs) * time.Millisecond
}

// Validate is the final check after all overrides are done (file load, command arguments substituted)
func (cfg Config) Validate() error {
	translateError := func(e validator.FieldError) string {
		switch e.ActualTag() {
		case "path_exists":
			return fmt.Sprintf("path \"%v\" does not exist", e.Value())
		case "dir_name":
			return fmt.Sprintf("\"%v\" cannot be used as a directory name", e.Value())
		case "required":
			return "value is empty"
		case "oneof":
			return fmt.Sprintf("must be one of: %s", e.Param())
		case "min":
			return fmt.Sprintf("must be at least %s", e.Param())
		default:
			return fmt.Sprintf("invalid value (%s)", e.Tag())
		}
	}

	cfgValidate := validator.New()

	err := cfgValidate.RegisterValidation(
		"path_exists", func(fl validator.FieldLevel) bool {
			path := fl.Field().String()
			if !filepath.IsAbs(path) {
				cwd, _ := os.Getwd()
				path = filepath.Join(cwd, path)
			}
			_, err := os.Stat(path)
			return err == nil
		},
	)
	if err != nil {
		return err
	}

	err = cfgValidate.RegisterValidation(
		"dir_name", func(fl validator.FieldLevel) bool {
			name := fl.Field().String()
			return name != "." && name != ".." && name == filepath.Base(name)
		},
	)
	if err != nil {
		return err
	}

	err = cfgValidate.Struct(cfg)
	if err != nil {
		message := "Invalid config values:\n"
		for _, err := range err.(validator.ValidationErrors) {
			message += fmt.Sprintf("> %v: %s\n", err.StructField(), translateError(err))
		}
		return errors.New(message)
	}

	return nil
}

var DefaultCfg = Config{
	LogsRoot:          "./",
	Account:           "default",
	Concurrency:       runtime.NumCPU(),
	CacheSegments:     64,
	HttpAddr:          "127.0.0.1:8393",
	CommitIntervalSec: 5,
	WatchDebounceMs:   200,
	Env:               "prod",
}

// LoadConfig reads irclog.yaml (or any format viper knows) from the current directory.
func LoadConfig() (Config, error) {
	return loadConfigFrom(".")
}

func loadConfigFrom(dir string) (cfg Config, err error) {
	cfg = DefaultCfg

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(configName)

	err = v.ReadInConfig()
	if err == nil {
		err = v.Unmarshal(
			&cfg, func(dc *mapstructure.DecoderConfig) {
				dc.TagName = "yaml"
			},
		)
		if err != nil {
			err = fmt.Errorf("unable to decode into config struct: %w", err)
			return
		}
	} else {
		// Check config read errors
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			err = errNoConfigFile
		} else {
			err = fmt.Errorf("unable to use config file: %s", err)
		}
		return
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultCfg.Concurrency
	}

	return cfg, cfg.Validate()
}
