package analyzer

import (
	"context"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// httpVerbs lists the counted request methods in chart order.
var httpVerbs = []string{"GET", "POST", "HEAD", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE", "PATCH"}

// HTTPVerbs counts HTTP request methods.
type HTTPVerbs struct {
	meta
	counter
}

// NewHTTPVerbs creates the HTTP verb analyzer.
func NewHTTPVerbs() plugin.Analyzer {
	const id = "most-used-http-verbs"
	return &HTTPVerbs{
		meta:    meta{id: id, name: "Most used HTTP verbs", category: CategoryApplicationLayer},
		counter: newCounter(id),
	}
}

func (a *HTTPVerbs) Init(cfg map[string]any) error { return noOptions(cfg) }

func (a *HTTPVerbs) Setup(src plugin.EventSource) {
	src.On(core.EventHTTP, func(ev core.Event) plugin.Result {
		for _, v := range httpVerbs {
			if ev.Method == v {
				return a.inc(v)
			}
		}
		return plugin.Skipped
	})
}

func (a *HTTPVerbs) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}
	data := make([]float64, len(httpVerbs))
	for i, v := range httpVerbs {
		data[i] = float64(c[v])
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Most used HTTP verbs", plugin.DiagramPieChart),
		PieChart:   pie(append([]string(nil), httpVerbs...), data, paletteFive),
		Hint:       hint(),
	}, nil
}

// HTTPEndpoints counts requested HTTP paths.
type HTTPEndpoints struct {
	meta
	counter
	topN int
}

// NewHTTPEndpoints creates the HTTP endpoint analyzer.
func NewHTTPEndpoints() plugin.Analyzer {
	const id = "most-used-http-endpoints"
	return &HTTPEndpoints{
		meta:    meta{id: id, name: "Top 5 most used HTTP endpoints", category: CategoryApplicationLayer},
		counter: newCounter(id),
		topN:    5,
	}
}

func (a *HTTPEndpoints) Init(cfg map[string]any) error { return initTopN(cfg, &a.topN) }

func (a *HTTPEndpoints) Setup(src plugin.EventSource) {
	src.On(core.EventHTTP, func(ev core.Event) plugin.Result {
		return a.inc(ev.Endpoint)
	})
}

func (a *HTTPEndpoints) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}
	labels, data := splitEntries(rank(c, a.topN))
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Most used HTTP endpoints", plugin.DiagramPieChart),
		PieChart:   pie(labels, data, paletteFive),
	}, nil
}
