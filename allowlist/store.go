// Package allowlist stores the plate texts the gate opens for.
package allowlist

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type Store interface {
	Plates(ctx context.Context) ([]string, error)
	// Replace swaps the whole list atomically.
	Replace(ctx context.Context, plates []string) error
}

// Clean trims every entry and drops blanks and duplicates, keeping order.
func Clean(plates []string) []string {
	out := make([]string, 0, len(plates))
	seen := make(map[string]struct{}, len(plates))
	for _, p := range plates {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Load reads the current list. A store failure yields an empty list so a
// broken store denies every truck instead of failing the request.
func Load(ctx context.Context, s Store, log *zap.Logger) []string {
	plates, err := s.Plates(ctx)
	if err != nil {
		if log != nil {
			log.Warn("allow-list unavailable, treating as empty", zap.Error(err))
		}
		return []string{}
	}
	return plates
}
