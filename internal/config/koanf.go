// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/svctl/internal/engine"
)

// DefaultEnvPrefix is the environment variable prefix layered over the
// YAML file, per SPEC_FULL §6: SVCTL_GLOBAL__LISTEN, SVCTL_LOG__LEVEL,
// and so on, using koanf's "__" nesting delimiter.
const DefaultEnvPrefix = "SVCTL_"

// Loader wraps koanf to load svctl configuration from, in ascending
// precedence: built-in defaults, a YAML file, then SVCTL_-prefixed
// environment variables. Grounded on the teacher's KoanfConfig.
type Loader struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile sets the YAML configuration file path.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.filePath = path }
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// NewLoader builds a Loader and performs its initial load.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load unmarshals the layered configuration and builds the engine
// service table, applying the same fatal validation rules as Config.Build.
func (l *Loader) Load() (*Config, []*engine.ServiceConfig, error) {
	l.mu.RLock()
	k := l.k
	l.mu.RUnlock()

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	services, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return &cfg, services, nil
}

// Reload re-reads the YAML file and environment, atomically swapping the
// underlying koanf instance so concurrent Load calls never observe a
// half-applied reload.
func (l *Loader) Reload() error {
	return l.reload()
}

func (l *Loader) reload() error {
	next := koanf.New(".")

	if l.filePath != "" {
		if err := next.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load YAML file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: l.envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			return koanfKeyFromEnv(l.envPrefix, k), v
		},
	})
	if err := next.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	l.mu.Lock()
	l.k = next
	l.mu.Unlock()
	return nil
}

// koanfKeyFromEnv converts SVCTL_GLOBAL__LISTEN (already stripped of its
// prefix by env.Provider) into "global.listen": single underscores
// separate words within a segment, double underscores separate path
// segments, matching koanf's env/v2 provider convention.
func koanfKeyFromEnv(prefix, k string) string {
	lower := toLowerASCII(stripPrefix(k, prefix))
	out := make([]byte, 0, len(lower))
	for i := 0; i < len(lower); i++ {
		if lower[i] == '_' && i+1 < len(lower) && lower[i+1] == '_' {
			out = append(out, '.')
			i++
			continue
		}
		out = append(out, lower[i])
	}
	return string(out)
}

func stripPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && toLowerASCII(s[:len(prefix)]) == toLowerASCII(prefix) {
		return s[len(prefix):]
	}
	return s
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Watch starts watching the YAML file for changes, reloading and
// invoking callback on each event. Mirrors the teacher's KoanfConfig.Watch,
// including its M-9 caveat: koanf v2's file.Provider cannot stop its
// internal fsnotify goroutine, so prefer driving Reload from a SIGHUP
// handler for services that need clean shutdown.
func (l *Loader) Watch(ctx context.Context, callback func(event string, err error)) error {
	if l.filePath == "" {
		return fmt.Errorf("cannot watch: no file path specified")
	}

	fp := file.Provider(l.filePath)
	watchErr := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			callback("watch error", fmt.Errorf("file watch error: %w", err))
			return
		}
		if err := l.reload(); err != nil {
			callback("reload error", fmt.Errorf("config reload failed: %w", err))
			return
		}
		callback("config reloaded", nil)
	})
	if watchErr != nil {
		return fmt.Errorf("failed to start watching: %w", watchErr)
	}

	<-ctx.Done()
	return nil
}
