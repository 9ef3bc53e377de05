package plugin

import (
	"encoding/json"
	"fmt"
)

// Chart type names as they appear in Summary.SupportedDiagrams.
const (
	DiagramPieChart    = "PieChart"
	DiagramBarChart    = "BarChart"
	DiagramScatterplot = "Scatterplot"
	DiagramWorldMap    = "WorldMap"
)

// Summary describes an artifact.
type Summary struct {
	FileName          string   `json:"fileName"`
	AttackCategory    string   `json:"attackCategory"`
	AnalysisName      string   `json:"analysisName"`
	SupportedDiagrams []string `json:"supportedDiagrams"`
}

// Dataset is one data series of a pie or bar chart.
type Dataset struct {
	Label           string    `json:"label,omitempty"`
	BackgroundColor []string  `json:"backgroundColor,omitempty"`
	Data            []float64 `json:"data"`
}

// LabeledChart is the payload of pie and bar charts.
type LabeledChart struct {
	Datasets []Dataset `json:"datasets"`
	Labels   []string  `json:"labels"`
}

// Point is one scatterplot point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Artifact is the finalized output of one analyzer: a chart payload keyed by
// its shape, optional extra top-level fields, and a summary.
type Artifact struct {
	AnalyzerID string
	Summary    Summary

	PieChart    *LabeledChart
	BarChart    *LabeledChart
	Scatterplot []Point
	WorldMap    map[string]uint64
	Hint        *string

	// Extra holds additional top-level fields such as "metrics".
	Extra map[string]any
}

// MarshalJSON flattens the chart payload, extras and summary into one object.
func (a *Artifact) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(a.Extra)+6)
	for k, v := range a.Extra {
		doc[k] = v
	}
	if a.PieChart != nil {
		doc["piechart"] = a.PieChart
	}
	if a.BarChart != nil {
		doc["barchart"] = a.BarChart
	}
	if a.Scatterplot != nil {
		doc["scatterplot"] = a.Scatterplot
	}
	if a.WorldMap != nil {
		doc["worldmap"] = a.WorldMap
	}
	if a.Hint != nil {
		doc["hint"] = *a.Hint
	}
	doc["fileName"] = a.Summary.FileName
	doc["attackCategory"] = a.Summary.AttackCategory
	doc["analysisName"] = a.Summary.AnalysisName
	diagrams := a.Summary.SupportedDiagrams
	if diagrams == nil {
		diagrams = []string{}
	}
	doc["supportedDiagrams"] = diagrams
	return json.Marshal(doc)
}

// FileName returns the artifact path for an analyzer under prefix.
func FileName(prefix, analyzerID string) string {
	return fmt.Sprintf("%s-%s.json", prefix, analyzerID)
}
