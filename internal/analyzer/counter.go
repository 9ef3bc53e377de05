package analyzer

import (
	"sort"

	"firestige.xyz/pcapminer/pkg/plugin"
)

// Counts is the label → count snapshot of counter analyzers.
type Counts map[string]uint64

// Clone returns an independent copy.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Total returns the sum of all counts.
func (c Counts) Total() uint64 {
	var sum uint64
	for _, v := range c {
		sum += v
	}
	return sum
}

// mergeCounts sums two counter maps key-wise over the key union.
// Neither input is modified.
func mergeCounts(a, b Counts) Counts {
	out := make(Counts, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

type entry struct {
	Label string
	Count uint64
}

// rank sorts counts descending and truncates to n. Equal counts are
// ordered by label so the result does not depend on map iteration.
func rank(c Counts, n int) []entry {
	entries := make([]entry, 0, len(c))
	for k, v := range c {
		entries = append(entries, entry{Label: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func splitEntries(entries []entry) ([]string, []float64) {
	labels := make([]string, len(entries))
	data := make([]float64, len(entries))
	for i, e := range entries {
		labels[i] = e.Label
		data[i] = float64(e.Count)
	}
	return labels, data
}

// counter is the state shared by analyzers whose snapshot is Counts.
// Analyzers embed it and add Setup and Finalize.
type counter struct {
	owner  string
	counts Counts
}

func newCounter(owner string) counter {
	return counter{owner: owner, counts: make(Counts)}
}

func (c *counter) inc(label string) plugin.Result {
	if label == "" {
		return plugin.Skipped
	}
	c.counts[label]++
	return plugin.Applied
}

// Snapshot returns a deep copy of the counts.
func (c *counter) Snapshot() plugin.Snapshot {
	return c.counts.Clone()
}

// DecodeSnapshot parses a JSON object of label → count.
func (c *counter) DecodeSnapshot(data []byte) (plugin.Snapshot, error) {
	var out Counts
	if err := decodeStrict(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Counts{}
	}
	return out, nil
}

// Merge sums two Counts snapshots.
func (c *counter) Merge(a, b plugin.Snapshot) (plugin.Snapshot, error) {
	ca, err := c.asCounts(a)
	if err != nil {
		return nil, err
	}
	cb, err := c.asCounts(b)
	if err != nil {
		return nil, err
	}
	return mergeCounts(ca, cb), nil
}

func (c *counter) asCounts(s plugin.Snapshot) (Counts, error) {
	cs, ok := s.(Counts)
	if !ok {
		return nil, shapeError(c.owner, s)
	}
	return cs, nil
}
