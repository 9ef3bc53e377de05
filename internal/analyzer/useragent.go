package analyzer

import (
	"context"
	"sort"
	"strings"

	"github.com/mssola/useragent"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// browserOS renders a user agent as "Browser on OS version".
func browserOS(raw string) string {
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Undefined Browser"
	}
	info := ua.OSInfo()
	name, version := info.Name, info.Version
	switch {
	case name == "":
		name, version = "Undefined OS", ""
	case version == "":
		version = "(No Version)"
	}
	return strings.TrimSpace(browser + " on " + name + " " + version)
}

// BrowserOS counts browser and operating system combinations.
type BrowserOS struct {
	meta
	counter
	topN int
}

// NewBrowserOS creates the browser and OS analyzer.
func NewBrowserOS() plugin.Analyzer {
	const id = "most-used-browser-and-os-combinations"
	return &BrowserOS{
		meta:    meta{id: id, name: "Top 10 most used Browser and OS Combinations", category: CategoryApplicationLayer},
		counter: newCounter(id),
		topN:    10,
	}
}

func (a *BrowserOS) Init(cfg map[string]any) error { return initTopN(cfg, &a.topN) }

func (a *BrowserOS) Setup(src plugin.EventSource) {
	src.On(core.EventUserAgent, func(ev core.Event) plugin.Result {
		if strings.TrimSpace(ev.UserAgent) == "" {
			return plugin.Skipped
		}
		return a.inc(browserOS(ev.UserAgent))
	})
}

func (a *BrowserOS) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	c, err := a.asCounts(s)
	if err != nil {
		return nil, err
	}
	labels, data := splitEntries(rank(c, a.topN))
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Most used Browser and OS Combinations", plugin.DiagramPieChart),
		PieChart:   pie(labels, data, paletteFive),
	}, nil
}

// DeviceCount is one row of the device snapshot.
type DeviceCount struct {
	Device string `json:"device"`
	Count  uint64 `json:"count"`
}

// DeviceCounts lists devices in first-seen order.
type DeviceCounts []DeviceCount

// deviceLabel renders the platform and device class of a user agent.
func deviceLabel(raw string) string {
	ua := useragent.New(raw)
	class := "desktop"
	switch {
	case ua.Bot():
		class = "bot"
	case ua.Mobile():
		class = "mobile"
	}
	return strings.TrimSpace(ua.Platform() + " " + class)
}

// Devices counts platform and device class combinations. Device
// detection depends on the parser build of each host, so snapshots are
// not merged.
type Devices struct {
	meta
	topN  int
	index map[string]int
	rows  DeviceCounts
}

// NewDevices creates the device analyzer.
func NewDevices() plugin.Analyzer {
	return &Devices{
		meta:  meta{id: "most-used-vendor-and-type-combinations", name: "Top 10 most used Devices", category: CategoryApplicationLayer},
		topN:  10,
		index: make(map[string]int),
	}
}

func (a *Devices) Init(cfg map[string]any) error { return initTopN(cfg, &a.topN) }

func (a *Devices) Setup(src plugin.EventSource) {
	src.On(core.EventUserAgent, func(ev core.Event) plugin.Result {
		if strings.TrimSpace(ev.UserAgent) == "" {
			return plugin.Skipped
		}
		label := deviceLabel(ev.UserAgent)
		if i, ok := a.index[label]; ok {
			a.rows[i].Count++
		} else {
			a.index[label] = len(a.rows)
			a.rows = append(a.rows, DeviceCount{Device: label, Count: 1})
		}
		return plugin.Applied
	})
}

func (a *Devices) Snapshot() plugin.Snapshot {
	return append(DeviceCounts{}, a.rows...)
}

func (a *Devices) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var rows DeviceCounts
	if err := decodeStrict(data, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = DeviceCounts{}
	}
	return rows, nil
}

func (a *Devices) Merge(_, _ plugin.Snapshot) (plugin.Snapshot, error) {
	return nil, core.ErrAggregationUnsupported
}

func (a *Devices) Finalize(_ context.Context, s plugin.Snapshot, prefix string) (*plugin.Artifact, error) {
	rows, ok := s.(DeviceCounts)
	if !ok {
		return nil, shapeError(a.id, s)
	}
	sorted := append(DeviceCounts{}, rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	if len(sorted) > a.topN {
		sorted = sorted[:a.topN]
	}
	labels := make([]string, len(sorted))
	data := make([]float64, len(sorted))
	for i, r := range sorted {
		labels[i] = r.Device
		data[i] = float64(r.Count)
	}
	return &plugin.Artifact{
		AnalyzerID: a.id,
		Summary:    a.summary(prefix, "Most used Devices", plugin.DiagramPieChart),
		PieChart:   pie(labels, data, paletteFive),
	}, nil
}
