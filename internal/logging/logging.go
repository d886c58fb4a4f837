// Package logging builds the process-wide zap logger and implements the
// VULCAN_LOG component-level filter, a RUST_LOG-style filter string
// expressed as a per-component zap.AtomicLevel map.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Filter holds one level per named component, plus a default level used
// for components not explicitly named.
type Filter struct {
	def    zapcore.Level
	levels map[string]zapcore.Level
}

// ParseFilter parses a VULCAN_LOG-style string: a comma-separated list of
// "component=level" pairs, or a bare "level" to set the default for all
// components. An empty string yields an all-info default.
func ParseFilter(s string) (Filter, error) {
	f := Filter{def: zapcore.InfoLevel, levels: map[string]zapcore.Level{}}
	s = strings.TrimSpace(s)
	if s == "" {
		return f, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		comp, lvlStr, hasComp := strings.Cut(part, "=")
		var lvl zapcore.Level
		if !hasComp {
			// bare "level" sets the default
			if err := lvl.Set(part); err != nil {
				return f, fmt.Errorf("parse level %q: %w", part, err)
			}
			f.def = lvl
			continue
		}
		if err := lvl.Set(lvlStr); err != nil {
			return f, fmt.Errorf("parse level for component %q: %w", comp, err)
		}
		f.levels[comp] = lvl
	}
	return f, nil
}

// Level returns the effective level for a named component.
func (f Filter) Level(component string) zapcore.Level {
	if lvl, ok := f.levels[component]; ok {
		return lvl
	}
	return f.def
}

// New builds a zap.Logger for the given component name, honoring the
// filter's per-component level.
func New(filter Filter, component string) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)

	atomic := zap.NewAtomicLevelAt(filter.Level(component))
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), atomic)
	return zap.New(core).Named(component)
}
