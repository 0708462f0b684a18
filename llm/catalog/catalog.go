package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/duochat/internal/cache"
	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/retry"
	"github.com/BaSui01/duochat/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultTTL = 5 * time.Minute

// Cache is the subset of the redis cache manager used for model lists.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCache stores model lists in a shared cache under the given TTL.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cat *Catalog) {
		cat.cache = c
		if ttl > 0 {
			cat.ttl = ttl
		}
	}
}

// WithLookupHook reports every shared-cache lookup as a hit or a miss.
func WithLookupHook(fn func(hit bool)) Option {
	return func(cat *Catalog) { cat.onLookup = fn }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(cat *Catalog) { cat.policy = p }
}

// Catalog lists the models a backend offers.
type Catalog struct {
	provider llm.Provider
	cache    Cache
	ttl      time.Duration
	policy   retry.Policy
	backoff  *retry.Backoff
	onLookup func(hit bool)
	group    singleflight.Group
	logger   *zap.Logger

	mu        sync.RWMutex
	local     []llm.Model
	fetchedAt time.Time
}

// New creates a catalog over a provider.
func New(provider llm.Provider, logger *zap.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		provider: provider,
		ttl:      defaultTTL,
		policy:   retry.DefaultPolicy(),
		logger:   logger.With(zap.String("component", "model_catalog")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.backoff = retry.NewBackoff(c.policy, c.logger)
	return c
}

func (c *Catalog) cacheKey() string {
	return "models:" + c.provider.Name()
}

// Models returns the backend's models, served from memory or cache when fresh.
func (c *Catalog) Models(ctx context.Context) ([]llm.Model, error) {
	c.mu.RLock()
	if c.local != nil && time.Since(c.fetchedAt) < c.ttl {
		out := append([]llm.Model(nil), c.local...)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	if c.cache != nil {
		var cached []llm.Model
		err := c.cache.GetJSON(ctx, c.cacheKey(), &cached)
		switch {
		case err == nil:
			c.lookup(true)
			c.store(cached)
			return cached, nil
		case cache.IsCacheMiss(err):
			c.lookup(false)
		default:
			c.logger.Debug("model cache read failed", zap.Error(err))
		}
	}
	return c.Refresh(ctx)
}

// Refresh bypasses every cache. Concurrent callers share one backend request.
func (c *Catalog) Refresh(ctx context.Context) ([]llm.Model, error) {
	v, err, shared := c.group.Do(c.cacheKey(), func() (interface{}, error) {
		models, err := retry.Do(ctx, c.backoff, c.provider.ListModels)
		if err != nil {
			return nil, err
		}
		sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
		return models, nil
	})
	if err != nil {
		c.logger.Warn("list models failed", zap.String("provider", c.provider.Name()), zap.Error(err))
		return nil, err
	}
	models := v.([]llm.Model)

	if !shared {
		c.store(models)
		if c.cache != nil {
			if err := c.cache.SetJSON(ctx, c.cacheKey(), models, c.ttl); err != nil {
				c.logger.Debug("model cache write failed", zap.Error(err))
			}
		}
		c.logger.Debug("models refreshed", zap.Int("count", len(models)))
	}
	return append([]llm.Model(nil), models...), nil
}

func (c *Catalog) lookup(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

func (c *Catalog) store(models []llm.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = append([]llm.Model(nil), models...)
	c.fetchedAt = time.Now()
}

// Names returns the model identifiers in sorted order.
func (c *Catalog) Names(ctx context.Context) ([]string, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return nil, err
	}
	return llm.ModelIDs(models), nil
}

// Validate checks that every id is offered by the backend.
func (c *Catalog) Validate(ctx context.Context, ids ...string) error {
	models, err := c.Models(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(models))
	for _, m := range models {
		known[m.ID] = struct{}{}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return types.NewError(types.ErrModelNotFound,
			fmt.Sprintf("model not available on %s: %s", c.provider.Name(), strings.Join(missing, ", "))).
			WithProvider(c.provider.Name())
	}
	return nil
}
