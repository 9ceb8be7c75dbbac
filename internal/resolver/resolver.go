// Package resolver maps an inbound mock request path to an entity and one of its endpoints.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

// Reader is the read side of storage the resolver needs.
type Reader interface {
	ListEntities(ctx context.Context) ([]models.Entity, error)
	ListActiveEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error)
}

type Resolver struct {
	store    Reader
	patterns *patternCache
}

func New(store Reader) *Resolver {
	return &Resolver{store: store, patterns: newPatternCache()}
}

// ResolveEntity returns the first registered entity whose base path prefixes
// fullPath, and the remaining sub-path ("/" when empty). A nil entity means no match.
func (r *Resolver) ResolveEntity(ctx context.Context, fullPath string) (*models.Entity, string, error) {
	entities, err := r.store.ListEntities(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("listing entities: %w", err)
	}
	for i := range entities {
		e := &entities[i]
		if e.BasePath == "" || !strings.HasPrefix(fullPath, e.BasePath) {
			continue
		}
		sub := fullPath[len(e.BasePath):]
		if sub == "" {
			sub = "/"
		}
		return e, sub, nil
	}
	return nil, "", nil
}

// MatchEndpoint returns the first active endpoint, in declaration order, whose
// method equals method and whose path template matches subPath.
func (r *Resolver) MatchEndpoint(ctx context.Context, entityID, method, subPath string) (*models.MockEndpoint, error) {
	endpoints, err := r.store.ListActiveEndpoints(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	for i := range endpoints {
		ep := &endpoints[i]
		if !ep.IsActive || ep.Method != method {
			continue
		}
		if r.patterns.get(ep.Path).MatchString(subPath) {
			return ep, nil
		}
	}
	return nil, nil
}

var tokenPattern = regexp.MustCompile(`\{[^}]+\}`)

// CompileTemplate turns "/users/{id}" into an anchored pattern where each
// {token} matches exactly one non-empty path segment and everything else is literal.
func CompileTemplate(template string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range tokenPattern.FindAllStringIndex(template, -1) {
		b.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		b.WriteString("[^/]+")
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(template[last:]))
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// MatchTemplate reports whether path satisfies template.
func MatchTemplate(template, path string) bool {
	return CompileTemplate(template).MatchString(path)
}

const maxPatterns = 1024

type patternCache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{m: make(map[string]*regexp.Regexp)}
}

func (c *patternCache) get(template string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.m[template]
	c.mu.RUnlock()
	if ok {
		return re
	}
	re = CompileTemplate(template)
	c.mu.Lock()
	if len(c.m) >= maxPatterns {
		clear(c.m)
	}
	c.m[template] = re
	c.mu.Unlock()
	return re
}
