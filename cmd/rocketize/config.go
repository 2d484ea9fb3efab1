package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/rocketize/internal/capabilities"
	"github.com/osbuild/rocketize/internal/dism"
	"github.com/osbuild/rocketize/internal/medium"
	"github.com/osbuild/rocketize/internal/stager"
	"github.com/osbuild/rocketize/internal/strip"
)

type dismConfig struct {
	Binary string `toml:"binary"`
	// zero means no timeout
	Timeout time.Duration `toml:"timeout"`
}

type capabilitiesConfig struct {
	Keep []capabilities.KeepRule `toml:"keep"`
}

type stripConfig struct {
	Edge    bool           `toml:"edge"`
	Targets []strip.Target `toml:"targets"`
}

type packageConfig struct {
	ReleaseURL   string `toml:"release_url"`
	Dir          string `toml:"dir"`
	Name         string `toml:"name"`
	Architecture string `toml:"architecture"`
	Region       string `toml:"region"`
	Offline      bool   `toml:"offline"`
	Concurrency  int    `toml:"concurrency"`
	RetryMax     int    `toml:"retry_max"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type metricsConfig struct {
	// node_exporter textfile collector output, disabled when empty
	Textfile string `toml:"textfile"`
}

type sentryConfig struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

type rocketizeConfig struct {
	// explicit image file, skips scanning the drives
	ImagePath     string `toml:"image_path"`
	MediumPath    string `toml:"medium_path"`
	MountDir      string `toml:"mount_dir"`
	EditionPrefix string `toml:"edition_prefix"`
	// wait for the operator before discarding a failed image
	PauseOnFailure bool                `toml:"pause_on_failure"`
	Dism           *dismConfig         `toml:"dism"`
	Capabilities   *capabilitiesConfig `toml:"capabilities"`
	Strip          *stripConfig        `toml:"strip"`
	Package        *packageConfig      `toml:"package"`
	Log            *logConfig          `toml:"log"`
	Metrics        *metricsConfig      `toml:"metrics"`
	Sentry         *sentryConfig       `toml:"sentry"`
}

func defaultConfig() rocketizeConfig {
	return rocketizeConfig{
		MediumPath:     medium.DefaultImagePath,
		MountDir:       "mnt",
		EditionPrefix:  "Windows 11",
		PauseOnFailure: true,
		Dism: &dismConfig{
			Binary: dism.DefaultBinary,
		},
		Capabilities: &capabilitiesConfig{
			Keep: append([]capabilities.KeepRule(nil), capabilities.DefaultKeepRules...),
		},
		Strip: &stripConfig{
			Edge:    true,
			Targets: append([]strip.Target(nil), strip.DefaultTargets...),
		},
		Package: &packageConfig{
			ReleaseURL:   stager.DefaultReleaseURL,
			Dir:          "winget",
			Name:         stager.DefaultPackageName,
			Architecture: stager.DefaultArchitecture,
			Region:       stager.DefaultRegion,
			Concurrency:  2,
			RetryMax:     3,
		},
		Log: &logConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: &metricsConfig{},
		Sentry:  &sentryConfig{},
	}
}

func parseConfig(file string) (*rocketizeConfig, error) {
	// set defaults
	config := defaultConfig()

	_, err := toml.DecodeFile(file, &config)
	if err != nil {
		// Return error only when we failed to decode the file.
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, err
		}

		logrus.Debug("Configuration file not found, using defaults")
	}

	// sections decode into the defaults, only fill in what the file
	// explicitly emptied
	defaults := defaultConfig()
	if config.Dism == nil {
		config.Dism = defaults.Dism
	}
	if config.Dism.Binary == "" {
		config.Dism.Binary = dism.DefaultBinary
	}
	if config.Dism.Timeout < 0 {
		return nil, fmt.Errorf("invalid dism timeout: %s", config.Dism.Timeout)
	}
	if config.Capabilities == nil || config.Capabilities.Keep == nil {
		config.Capabilities = defaults.Capabilities
	}
	if config.Strip == nil {
		config.Strip = defaults.Strip
	}
	if config.Strip.Targets == nil {
		config.Strip.Targets = defaults.Strip.Targets
	}
	if config.Package == nil {
		config.Package = defaults.Package
	}
	if config.Package.Concurrency < 0 {
		return nil, fmt.Errorf("invalid number of concurrent downloads: %d", config.Package.Concurrency)
	}
	if config.Log == nil {
		config.Log = defaults.Log
	}
	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = defaults.Log.Format
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}
	if config.Sentry == nil {
		config.Sentry = defaults.Sentry
	}
	if config.MountDir == "" {
		return nil, fmt.Errorf("mount_dir must not be empty")
	}

	switch config.Log.Format {
	case "text", "json":
		// good and supported
	default:
		return nil, fmt.Errorf("log format needs to be text or json. Got: %s.", config.Log.Format)
	}

	return &config, nil
}

// envConfig holds the overrides taken from the environment. Unset variables
// leave the configuration alone.
type envConfig struct {
	ImagePath       *string `env:"ROCKETIZE_IMAGE_PATH"`
	MountDir        *string `env:"ROCKETIZE_MOUNT_DIR"`
	DismBinary      *string `env:"ROCKETIZE_DISM_BINARY"`
	DismTimeout     *string `env:"ROCKETIZE_DISM_TIMEOUT"`
	PackageDir      *string `env:"ROCKETIZE_PACKAGE_DIR"`
	Offline         *string `env:"ROCKETIZE_OFFLINE"`
	LogLevel        *string `env:"ROCKETIZE_LOG_LEVEL"`
	MetricsTextfile *string `env:"ROCKETIZE_METRICS_TEXTFILE"`
	SentryDSN       *string `env:"SENTRY_DSN"`
}

// readEnv fills the *string fields of the struct dst points to from the
// variables named by their env tags. Fields whose variable is unset stay nil.
func readEnv(dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("cannot read environment into %T", dst)
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, ok := field.Tag.Lookup("env")
		if !ok || key == "" {
			return fmt.Errorf("field %s has no env tag", field.Name)
		}
		if field.Type.Kind() != reflect.Ptr || field.Type.Elem().Kind() != reflect.String {
			return fmt.Errorf("field %s (%s): unsupported type %s", field.Name, key, field.Type)
		}
		if value, ok := os.LookupEnv(key); ok {
			v.Field(i).Set(reflect.ValueOf(&value))
		}
	}
	return nil
}

// loadDotEnv exports the variables of an optional .env file. Variables
// already set in the environment win.
func loadDotEnv(file string) error {
	if file == "" {
		return nil
	}
	err := godotenv.Load(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (c *rocketizeConfig) applyEnv(env *envConfig) error {
	if env.ImagePath != nil {
		c.ImagePath = *env.ImagePath
	}
	if env.MountDir != nil {
		c.MountDir = *env.MountDir
	}
	if env.DismBinary != nil {
		c.Dism.Binary = *env.DismBinary
	}
	if env.DismTimeout != nil {
		timeout, err := time.ParseDuration(*env.DismTimeout)
		if err != nil {
			return fmt.Errorf("ROCKETIZE_DISM_TIMEOUT: %w", err)
		}
		c.Dism.Timeout = timeout
	}
	if env.PackageDir != nil {
		c.Package.Dir = *env.PackageDir
	}
	if env.Offline != nil {
		offline, err := strconv.ParseBool(*env.Offline)
		if err != nil {
			return fmt.Errorf("ROCKETIZE_OFFLINE: %w", err)
		}
		c.Package.Offline = offline
	}
	if env.LogLevel != nil {
		c.Log.Level = *env.LogLevel
	}
	if env.MetricsTextfile != nil {
		c.Metrics.Textfile = *env.MetricsTextfile
	}
	if env.SentryDSN != nil {
		c.Sentry.DSN = *env.SentryDSN
	}
	return nil
}

// loadConfig reads the configuration file and applies the environment on
// top of it.
func loadConfig(file, dotEnv string) (*rocketizeConfig, error) {
	config, err := parseConfig(file)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration %s: %w", file, err)
	}

	if err := loadDotEnv(dotEnv); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", dotEnv, err)
	}
	var env envConfig
	if err := readEnv(&env); err != nil {
		return nil, err
	}
	if err := config.applyEnv(&env); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *rocketizeConfig) stagerConfig() stager.Config {
	return stager.Config{
		ReleaseURL:   c.Package.ReleaseURL,
		Dir:          c.Package.Dir,
		PackageName:  c.Package.Name,
		Architecture: c.Package.Architecture,
		Region:       c.Package.Region,
		Offline:      c.Package.Offline,
		Concurrency:  c.Package.Concurrency,
		RetryMax:     c.Package.RetryMax,
	}
}
