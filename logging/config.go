package logging

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultLevels are used when Config.Levels is empty. Lower is more severe.
var DefaultLevels = map[string]int{
	"error":   0,
	"warn":    1,
	"info":    2,
	"verbose": 3,
	"debug":   4,
	"silly":   5,
}

// Construction errors
var (
	ErrNoTransports     = stderrors.New("missing configuration transports")
	ErrTransportInvalid = stderrors.New("missing transport options or type")
	ErrUnknownTransport = stderrors.New("missing transport type")
	ErrUnknownLevel     = stderrors.New("unknown level")
)

// Config configures a Logger
type Config struct {
	// Levels maps level names to priorities
	Levels map[string]int `json:"levels,omitempty" yaml:"levels,omitempty"`
	// Level is the threshold for sinks that declare none
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Path is the directory file sink names are resolved under
	Path       string       `json:"path,omitempty" yaml:"path,omitempty"`
	Transports []SinkConfig `json:"transports" yaml:"transports"`
	// Middleware tunes RequestLogger
	Middleware MiddlewareConfig `json:"middleware,omitempty" yaml:"middleware,omitempty"`
}

// SinkConfig registers one sink
type SinkConfig struct {
	Type    string         `json:"type" yaml:"type"`
	Level   string         `json:"level,omitempty" yaml:"level,omitempty"`
	Options map[string]any `json:"options" yaml:"options"`
}

// MiddlewareConfig selects the request fields written by RequestLogger.
// Known fields: method, url, path, status, duration, ip, user_agent, bytes.
type MiddlewareConfig struct {
	RequestWhitelist []string `json:"request_whitelist,omitempty" yaml:"request_whitelist,omitempty"`
}

// SinkOptions are the decoded options map of a SinkConfig
type SinkOptions struct {
	Name     string `json:"name,omitempty"`
	Level    string `json:"level,omitempty"`
	Filename string `json:"filename,omitempty"`
	Stream   string `json:"stream,omitempty"`
	Format   string `json:"format,omitempty"`
	Silent   bool   `json:"silent,omitempty"`
	Buffer   int    `json:"buffer,omitempty"`

	// Path is the directory of Config.Path, set before the factory runs
	Path string `json:"-"`
}

func decodeOptions(raw map[string]any) (SinkOptions, error) {
	var opts SinkOptions
	data, err := json.Marshal(raw)
	if err != nil {
		return opts, err
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

func (c Config) levels() map[string]int {
	if len(c.Levels) == 0 {
		return DefaultLevels
	}
	return c.Levels
}

// Validate reports the first configuration error New would return
func (c Config) Validate() error {
	if len(c.Transports) == 0 {
		return ErrNoTransports
	}
	levels := c.levels()
	for _, t := range c.Transports {
		if t.Type == "" || t.Options == nil {
			return ErrTransportInvalid
		}
		if _, ok := lookupFactory(t.Type); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTransport, t.Type)
		}
		opts, err := decodeOptions(t.Options)
		if err != nil {
			return fmt.Errorf("transport %s options: %w", t.Type, err)
		}
		if _, err := threshold(levels, t.Level, opts.Level, c.Level); err != nil {
			return err
		}
	}
	return nil
}

// threshold picks the first declared level among the sink, its options and
// the logger default, falling back to info.
func threshold(levels map[string]int, candidates ...string) (string, error) {
	name := "info"
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i] != "" {
			name = candidates[i]
		}
	}
	if _, ok := levels[name]; !ok {
		return "", fmt.Errorf("%w %q (known: %s)", ErrUnknownLevel, name, strings.Join(levelNames(levels), ", "))
	}
	return name, nil
}

func levelNames(levels map[string]int) []string {
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if levels[names[i]] != levels[names[j]] {
			return levels[names[i]] < levels[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
