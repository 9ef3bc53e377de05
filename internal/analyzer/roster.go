package analyzer

import (
	"fmt"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// DefaultRoster is the analyzer order shared by every worker and the
// coordinator. Snapshots are correlated by position in this list.
var DefaultRoster = []string{
	"top-5-vlan-domains-by-eth-traffic",
	"generic-metrics",
	"top-20-services",
	"portscan-clustered",
	"synfloodanalysis",
	"udp-tcp-ratio",
	"IP-version",
	"ICMP_messages",
	"top-5-source-hosts-by-traffic",
	"top-100-source-hosts-by-traffic",
	"most-used-http-verbs",
	"most-used-http-endpoints",
	"most-used-browser-and-os-combinations",
	"most-used-vendor-and-type-combinations",
}

func init() {
	plugin.RegisterAnalyzer("top-5-vlan-domains-by-eth-traffic", NewVLANDomains)
	plugin.RegisterAnalyzer("generic-metrics", NewGenericMetrics)
	plugin.RegisterAnalyzer("top-20-services", NewTopServices)
	plugin.RegisterAnalyzer("portscan-clustered", NewPortScan)
	plugin.RegisterAnalyzer("synfloodanalysis", NewSynFlood)
	plugin.RegisterAnalyzer("udp-tcp-ratio", NewUDPTCPRatio)
	plugin.RegisterAnalyzer("IP-version", NewIPVersion)
	plugin.RegisterAnalyzer("ICMP_messages", NewICMPMessages)
	plugin.RegisterAnalyzer("top-5-source-hosts-by-traffic", NewTopSources)
	plugin.RegisterAnalyzer("top-100-source-hosts-by-traffic", NewSourceCountries)
	plugin.RegisterAnalyzer("most-used-http-verbs", NewHTTPVerbs)
	plugin.RegisterAnalyzer("most-used-http-endpoints", NewHTTPEndpoints)
	plugin.RegisterAnalyzer("most-used-browser-and-os-combinations", NewBrowserOS)
	plugin.RegisterAnalyzer("most-used-vendor-and-type-combinations", NewDevices)
}

// Deps are handed to analyzers that implement the matching capability.
type Deps struct {
	Resolver plugin.Resolver
	Services plugin.ServiceLookup
	// Options returns the option map of an analyzer ID, or nil.
	Options func(id string) map[string]any
}

// Build instantiates, wires and initializes the analyzers named by ids,
// in order. Unknown or repeated IDs are errors.
func Build(ids []string, deps Deps) ([]plugin.Analyzer, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]plugin.Analyzer, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: analyzer %q listed twice", core.ErrConfigInvalid, id)
		}
		seen[id] = struct{}{}

		factory, err := plugin.GetAnalyzerFactory(id)
		if err != nil {
			return nil, err
		}
		a := factory()

		if ra, ok := a.(plugin.ResolverAware); ok && deps.Resolver != nil {
			ra.SetResolver(deps.Resolver)
		}
		if sa, ok := a.(plugin.ServiceAware); ok && deps.Services != nil {
			sa.SetServices(deps.Services)
		}

		var opts map[string]any
		if deps.Options != nil {
			opts = deps.Options(id)
		}
		if err := a.Init(opts); err != nil {
			return nil, fmt.Errorf("init analyzer %s: %w", id, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// IDs returns the roster IDs of analyzers, in order.
func IDs(analyzers []plugin.Analyzer) []string {
	ids := make([]string, len(analyzers))
	for i, a := range analyzers {
		ids[i] = a.ID()
	}
	return ids
}
