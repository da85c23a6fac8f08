package service

import (
	"strings"
	"time"
)

// Clock is injected so scheduling decisions can be tested against a fixed instant.
type Clock func() time.Time

func clockOrNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

func normalizePlatforms(platforms []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
