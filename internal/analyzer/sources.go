package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// sourceCounter counts IPv4 packets per source address.
type sourceCounter struct {
	meta
	counter
	topN     int
	resolver plugin.Resolver
}

func (a *sourceCounter) Init(cfg map[string]any) error { return initTopN(cfg, &a.topN) }

// SetResolver injects the origin registry.
func (a *sourceCounter) SetResolver(r plugin.Resolver) { a.resolver = r }

func (a *sourceCounter) Setup(src plugin.EventSource) {
	src.On(core.EventIPv4, func(ev core.Event) plugin.Result {
		if !ev.SrcIP.IsValid() {
			return plugin.Skipped
		}
		return a.inc(ev.SrcIP.String())
	})
}

// resolve looks up the ranked addresses. Lookup errors are logged and the
// partial result is used; a nil map means nothing resolved.
func (a *sourceCounter) resolve(ctx context.Context, top []entry) map[string]core.Origin {
	if a.resolver == nil || len(top) == 0 {
		return nil
	}
	ids := make([]string, len(top))
	for i, e := range top {
		ids[i] = e.Label
	}
	origins, err := a.resolver.Resolve(ctx, ids)
	if err != nil {
		slog.Warn("origin lookup failed, labels left unresolved",
			"analyzer", a.id, "addresses", len(ids), "resolved", len(origins), "error", err)
	}
	return origins
}

// TopSources charts the busiest source addresses with origin labels.
type TopSources struct {
	sourceCounter
}

// NewTopSources creates the top 5 source hosts analyzer.
func NewTopSources() plugin.Analyzer {
	const id = "top-5-source-hosts-by-traffic"
	return &TopSources{sourceCounter{
		meta:    meta{id: id, name: "Top 5 source hosts (IPv4)", category: CategoryNetworkLayer},
		counter: newCounter(id),
		topN:    5,
	}}
}

// originLabel formats an address with whatever the registry knew about it.
func originLabel(addr string, o core.Origin, ok bool) string {
	switch {
	case !ok:
		return addr
	case o.Range != "" && o.ASN != "" && o.CountryCode != "":
		return fmt.Sprintf("%s (%s, AS%s, %s)", addr, o.Range, o.ASN, o.CountryCode)
	case o.ASN != "" && o.CountryCode != "":
		return fmt.Sprintf("%s (AS%s, %s)", addr, o.ASN, o.CountryCode)
	default:
		return addr
	}
}

func (a *TopSources) Finalize(ctx context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}
	top := rank(c, a.topN)
	origins := a.resolve(ctx, top)

	labels := make([]string, len(top))
	data := make([]float64, len(top))
	for i, e := range top {
		o, ok := origins[e.Label]
		labels[i] = originLabel(e.Label, o, ok)
		data[i] = float64(e.Count)
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Top 5 sources by traffic", plugin.DiagramPieChart),
		PieChart:   pie(labels, data, paletteFive),
		Hint:       hint(),
	}, nil
}

// SourceCountries folds the busiest source addresses into per-country
// totals for a world map. Addresses without a known country are left out.
type SourceCountries struct {
	sourceCounter
}

// NewSourceCountries creates the top 100 source hosts analyzer.
func NewSourceCountries() plugin.Analyzer {
	const id = "top-100-source-hosts-by-traffic"
	return &SourceCountries{sourceCounter{
		meta:    meta{id: id, name: "Top 100 source hosts (IPv4)", category: CategoryNetworkLayer},
		counter: newCounter(id),
		topN:    100,
	}}
}

func (a *SourceCountries) Finalize(ctx context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}
	top := rank(c, a.topN)
	origins := a.resolve(ctx, top)

	countries := make(map[string]uint64)
	for _, e := range top {
		if o, ok := origins[e.Label]; ok && o.CountryCode != "" {
			countries[o.CountryCode] += e.Count
		}
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Top 100 sources by traffic", plugin.DiagramWorldMap),
		WorldMap:   countries,
		Hint:       hint(),
	}, nil
}
