package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load builds the ambient Config: defaults, then an optional TOML file at
// filePath (skipped if filePath is empty or the file does not exist), then
// environment variable overrides, in that precedence order. The CLI's
// --config flag supplies filePath; callers further override the result with
// bound Cobra flag values before constructing a pipeline.RunConfig.
func Load(filePath string) (*Config, error) {
	cfg := &Config{}

	if err := loadDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			// File keys are flat (log_level, max_threads, ...), so each
			// section struct is decoded from the top level of the file.
			for _, section := range []any{&cfg.Logging, &cfg.Diagnostics, &cfg.HTTP, &cfg.Run} {
				if _, err := toml.DecodeFile(filePath, section); err != nil {
					return nil, fmt.Errorf("config file %s: %w", filePath, err)
				}
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s: %w", filePath, err)
		}
	}

	if err := loadEnvOverrides(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadDefaults recursively applies each field's `default` tag.
func loadDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := loadDefaults(fieldVal); err != nil {
				return err
			}
			continue
		}
		defaultVal, ok := field.Tag.Lookup("default")
		if !ok || defaultVal == "" {
			continue
		}
		if err := setField(fieldVal, defaultVal); err != nil {
			return fmt.Errorf("default for %s: %w", field.Name, err)
		}
	}
	return nil
}

// loadEnvOverrides recursively overrides fields whose `env` tag names a set
// environment variable, the highest-precedence ambient source short of a
// directly-bound CLI flag.
func loadEnvOverrides(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := loadEnvOverrides(fieldVal); err != nil {
				return err
			}
			continue
		}
		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		value, set := os.LookupEnv(envName)
		if !set {
			continue
		}
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the ambient configuration is internally consistent.
// Per-run inputs (token, URL, column flags) are validated separately where
// they're parsed, since a bad flag is a fatal pre-dispatch error (§7) rather
// than an ambient misconfiguration.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if c.Run.MaxThreads <= 0 {
		errs = append(errs, "RUN_MAX_THREADS must be positive")
	}
	if c.Run.MaxWaitTime <= 0 {
		errs = append(errs, "RUN_MAX_WAIT_TIME must be positive")
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, "HTTP_TIMEOUT must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, "HTTP_MAX_RETRIES must be non-negative")
	}
	if c.HTTP.RateLimitPerSecond <= 0 {
		errs = append(errs, "HTTP_RATE_LIMIT must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
