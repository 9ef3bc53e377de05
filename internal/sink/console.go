package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"firestige.xyz/pcapminer/pkg/plugin"
)

// Console prints one summary line per artifact.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console sink writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Write(_ context.Context, a *plugin.Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\t%s\t[%s]\t%s\n",
		a.AnalyzerID,
		a.Summary.AnalysisName,
		strings.Join(a.Summary.SupportedDiagrams, ","),
		a.Summary.FileName)
	return err
}

func (c *Console) Close() error { return nil }
