package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/internal/metrics"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// Static resolves from a fixed table.
type Static map[string]core.Origin

// Resolve returns the known subset of ids.
func (s Static) Resolve(_ context.Context, ids []string) (map[string]core.Origin, error) {
	out := make(map[string]core.Origin, len(ids))
	for _, id := range ids {
		if o, ok := s[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

// Chain asks each resolver in turn for the identities still unresolved.
// Errors are joined; results from every resolver are kept.
type Chain []plugin.Resolver

func (c Chain) Resolve(ctx context.Context, ids []string) (map[string]core.Origin, error) {
	out := make(map[string]core.Origin, len(ids))
	pending := ids
	var errs []error
	for _, r := range c {
		if len(pending) == 0 {
			break
		}
		got, err := r.Resolve(ctx, pending)
		if err != nil {
			errs = append(errs, err)
		}
		rest := pending[:0:0]
		for _, id := range pending {
			if o, ok := got[id]; ok {
				out[id] = o
			} else {
				rest = append(rest, id)
			}
		}
		pending = rest
	}
	return out, errors.Join(errs...)
}

// Cached fronts a resolver with a TTL cache. Only successful lookups are
// cached so a transient registry failure is retried on the next finalize.
type Cached struct {
	next  plugin.Resolver
	cache *cache.Cache
}

// NewCached wraps next with a cache whose entries live for ttl.
func NewCached(next plugin.Resolver, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Resolve(ctx context.Context, ids []string) (map[string]core.Origin, error) {
	out := make(map[string]core.Origin, len(ids))
	var misses []string
	for _, id := range ids {
		if v, ok := c.cache.Get(id); ok {
			out[id] = v.(core.Origin)
			metrics.EnrichmentLookupsTotal.WithLabelValues("hit").Inc()
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	got, err := c.next.Resolve(ctx, misses)
	if err != nil {
		metrics.EnrichmentLookupsTotal.WithLabelValues("error").Inc()
	}
	for _, id := range misses {
		o, ok := got[id]
		if !ok {
			metrics.EnrichmentLookupsTotal.WithLabelValues("unresolved").Inc()
			continue
		}
		metrics.EnrichmentLookupsTotal.WithLabelValues("resolved").Inc()
		c.cache.SetDefault(id, o)
		out[id] = o
	}
	return out, err
}

// New builds the resolver described by cfg: static entries first, then
// the cached whois client. It returns nil when nothing is configured.
func New(cfg config.EnrichmentConfig) plugin.Resolver {
	var chain Chain
	if len(cfg.Static) > 0 {
		static := make(Static, len(cfg.Static))
		for _, e := range cfg.Static {
			static[e.Address] = core.Origin{CountryCode: e.CountryCode, ASN: e.ASN, Range: e.Range}
		}
		chain = append(chain, static)
	}
	if cfg.Whois.Enabled {
		var r plugin.Resolver = NewCymru(cfg.Whois.Address, cfg.Whois.Timeout)
		if cfg.CacheTTL > 0 {
			r = NewCached(r, cfg.CacheTTL)
		}
		chain = append(chain, r)
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	slog.Debug("enrichment chain configured", "resolvers", len(chain))
	return chain
}
