package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// source resolves keys with precedence explicit map > process env > .env file and records
// values that fail to parse.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
	invalid  []string
}

func newSource(options loaderOptions) (*source, error) {
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return &source{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func (s *source) lookup(key string) (string, bool) {
	if value, ok := s.explicit[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s *source) raw(key string) (string, bool) {
	value, ok := s.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (s *source) str(key, fallback string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return fallback
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		s.invalid = append(s.invalid, key)
		return fallback
	}
	return d
}

func (s *source) integer(key string, fallback int) int {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		s.invalid = append(s.invalid, key)
		return fallback
	}
	return parsed
}

func (s *source) boolean(key string, fallback bool) bool {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	s.invalid = append(s.invalid, key)
	return fallback
}

func (s *source) list(key string) []string {
	value, ok := s.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// pairs parses "k1=v1,k2=v2"; keys are upper-cased.
func (s *source) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range s.list(key) {
		name, value, found := strings.Cut(entry, "=")
		name = strings.ToUpper(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			s.invalid = append(s.invalid, key)
			continue
		}
		out[name] = value
	}
	return out
}

func (s *source) err() error {
	if len(s.invalid) == 0 {
		return nil
	}
	return &ValidationError{fields: s.invalid}
}

// EnvironmentValues returns the effective environment after applying the same precedence as Load,
// so callers can initialise dependencies such as the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotenv))
	for key, value := range dotenv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
