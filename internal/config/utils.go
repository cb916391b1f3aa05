package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed values from the environment and remembers every
// variable that was set but could not be parsed.
type envReader struct {
	malformed []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *envReader) fail(key, value string, err error) {
	r.malformed = append(r.malformed, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (r *envReader) str(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) int(key string, fallback int) int {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return n
}

func (r *envReader) bool(key string, fallback bool) bool {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return b
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return d
}

// list splits a comma separated value, dropping blank entries.
func (r *envReader) list(key string, fallback []string) []string {
	value, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (r *envReader) err() error {
	if len(r.malformed) == 0 {
		return nil
	}
	return fmt.Errorf("malformed environment: %w", errors.Join(r.malformed...))
}

func lowerTrim(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	return s
}
