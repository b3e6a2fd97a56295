package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"medical-records-access/internal/platform/logger"
	"medical-records-access/internal/ports/directory"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type cached struct {
	p   directory.Profile
	exp time.Time
}

// Service resuelve perfiles con cache TTL. Los NotFound no se cachean.
type Service struct {
	lookup directory.Lookup
	ttl    time.Duration
	log    logger.Logger

	mu    sync.RWMutex
	cache map[string]cached

	now func() time.Time
}

// NewService: ttl 0 => sin cache.
func NewService(lookup directory.Lookup, ttl time.Duration, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		lookup: lookup,
		ttl:    ttl,
		log:    log.With(map[string]any{"component": "directory"}),
		cache:  make(map[string]cached),
		now:    time.Now,
	}
}

func (s *Service) Resolve(ctx context.Context, id string) (directory.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return directory.Profile{}, ErrInvalidInput
	}

	if p, ok := s.fromCache(id); ok {
		return p, nil
	}

	p, err := s.lookup.ResolveUser(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.Profile{}, ErrNotFound
		}
		return directory.Profile{}, err
	}

	if s.ttl > 0 {
		s.mu.Lock()
		s.cache[id] = cached{p: p, exp: s.now().Add(s.ttl)}
		s.mu.Unlock()
	}
	return p, nil
}

// ResolveMany es best-effort: ids que fallan no vienen en el resultado.
func (s *Service) ResolveMany(ctx context.Context, ids []string) map[string]directory.Profile {
	out := make(map[string]directory.Profile, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		p, err := s.Resolve(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidInput) {
				s.log.Warn("directory lookup failed", map[string]any{"user_id": id, "err": err})
			}
			continue
		}
		out[id] = p
	}
	return out
}

func (s *Service) fromCache(id string) (directory.Profile, bool) {
	if s.ttl <= 0 {
		return directory.Profile{}, false
	}
	s.mu.RLock()
	c, ok := s.cache[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(c.exp) {
		return directory.Profile{}, false
	}
	return c.p, true
}
