// Package analyzer implements the built-in traffic analyzers.
package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pcapminer/internal/core"
	"firestige.xyz/pcapminer/pkg/plugin"
)

// Attack categories.
const (
	CategoryLinkLayer        = "Link Layer"
	CategoryNetworkLayer     = "Network Layer"
	CategoryTransportLayer   = "Transport Layer"
	CategoryApplicationLayer = "Application Layer"
)

// temporalHint marks charts whose labels depend on when they were computed.
const temporalHint = "The labels of this chart have been computed using temporally sensitive data"

var (
	paletteFive  = []string{"#D33F49", "#77BA99", "#23FFD9", "#27B299", "#831A49"}
	paletteSeven = []string{"#77BA99", "#FFBA49", "#D33F49", "#23FFD9", "#392061", "#27B299", "#831A49"}
	paletteSix   = []string{"#DB0071", "#005FD0", "#b967ff", "#fffb96", "#8daa91", "#05ffa1"}
	paletteTwo   = []string{"#DB0071", "#005FD0"}
)

// meta carries the identity every analyzer shares.
type meta struct {
	id       string
	name     string
	category string
}

func (m meta) ID() string   { return m.id }
func (m meta) Name() string { return m.name }

// summary builds the artifact summary stored under prefix.
func (m meta) summary(prefix, analysisName string, diagrams ...string) plugin.Summary {
	if diagrams == nil {
		diagrams = []string{}
	}
	return plugin.Summary{
		FileName:          plugin.FileName(prefix, m.id),
		AttackCategory:    m.category,
		AnalysisName:      analysisName,
		SupportedDiagrams: diagrams,
	}
}

// rankOptions are the options of top-N analyzers.
type rankOptions struct {
	TopN int `mapstructure:"top_n"`
}

// decodeOptions decodes an analyzer option map into out, rejecting
// unknown keys. A nil map leaves out untouched.
func decodeOptions(cfg map[string]any, out any) error {
	if cfg == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// initTopN applies top_n from cfg to *n.
func initTopN(cfg map[string]any, n *int) error {
	opts := rankOptions{TopN: *n}
	if err := decodeOptions(cfg, &opts); err != nil {
		return err
	}
	if opts.TopN < 1 {
		return fmt.Errorf("%w: top_n must be positive, got %d", core.ErrConfigInvalid, opts.TopN)
	}
	*n = opts.TopN
	return nil
}

// noOptions rejects any option.
func noOptions(cfg map[string]any) error {
	return decodeOptions(cfg, &struct{}{})
}

// decodeStrict unmarshals a wire snapshot and rejects unknown fields.
func decodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSnapshotShape, err)
	}
	return nil
}

// shapeError reports a snapshot of an unexpected Go type.
func shapeError(id string, s plugin.Snapshot) error {
	return fmt.Errorf("%s: got %T: %w", id, s, core.ErrSnapshotShape)
}

// pie builds a single-dataset pie chart.
func pie(labels []string, data []float64, colors []string) *plugin.LabeledChart {
	if labels == nil {
		labels = []string{}
	}
	if data == nil {
		data = []float64{}
	}
	return &plugin.LabeledChart{
		Datasets: []plugin.Dataset{{BackgroundColor: colors, Data: data}},
		Labels:   labels,
	}
}

func hint() *string {
	h := temporalHint
	return &h
}
