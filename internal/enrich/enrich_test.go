package enrich

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapminer/internal/config"
	"firestige.xyz/pcapminer/internal/core"
)

// fakeWhois accepts one connection, records the query lines up to "end",
// writes reply and closes.
func fakeWhois(t *testing.T, reply string) (string, <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	queries := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var lines []string
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			lines = append(lines, line)
			if line == "end" {
				break
			}
		}
		queries <- lines
		_, _ = conn.Write([]byte(reply))
	}()
	return ln.Addr().String(), queries
}

func TestCymruResolve(t *testing.T) {
	reply := "Bulk mode; whois.cymru.com [2026-01-01 00:00:00 +0000]\n" +
		"AS      | IP               | BGP Prefix          | CC | Registry | Allocated  | AS Name\n" +
		"13335   | 1.1.1.1          | 1.1.1.0/24          | AU | apnic    | 2011-08-11 | CLOUDFLARENET, US\n" +
		"NA      | 10.0.0.1         | NA                  | NA | other    |            | NA\n"
	addr, queries := fakeWhois(t, reply)

	c := NewCymru(addr, time.Second)
	got, err := c.Resolve(context.Background(), []string{"1.1.1.1", "10.0.0.1", "not-an-ip"})
	require.NoError(t, err)

	assert.Equal(t, []string{"begin", "verbose", "1.1.1.1", "10.0.0.1", "end"}, <-queries)
	assert.Equal(t, core.Origin{CountryCode: "AU", ASN: "13335", Range: "1.1.1.0/24"}, got["1.1.1.1"])
	assert.Equal(t, core.Origin{}, got["10.0.0.1"])
	assert.Len(t, got, 2)
}

func TestCymruSkipsDialWithoutAddresses(t *testing.T) {
	c := NewCymru("127.0.0.1:1", time.Second)
	got, err := c.Resolve(context.Background(), []string{"bogus"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCymruDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := NewCymru(addr, time.Second)
	got, err := c.Resolve(context.Background(), []string{"1.1.1.1"})
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestCymruTimeoutKeepsPartialResult(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("13335 | 1.1.1.1 | 1.1.1.0/24 | AU | apnic | 2011-08-11 | CLOUDFLARENET\n"))
		<-release
	}()

	c := NewCymru(ln.Addr().String(), 200*time.Millisecond)
	got, err := c.Resolve(context.Background(), []string{"1.1.1.1", "8.8.8.8"})
	assert.Error(t, err)
	assert.Equal(t, "AU", got["1.1.1.1"].CountryCode)
	assert.NotContains(t, got, "8.8.8.8")
}

func TestParseCymruLine(t *testing.T) {
	tests := []struct {
		line string
		addr string
		ok   bool
	}{
		{"15169 | 8.8.8.8 | 8.8.8.0/24 | US | arin | 2023-12-28 | GOOGLE, US", "8.8.8.8", true},
		{"AS | IP | BGP Prefix | CC | Registry | Allocated | AS Name", "", false},
		{"Bulk mode; whois.cymru.com", "", false},
		{"15169 | garbage | x | US", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			addr, _, ok := parseCymruLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

type countingResolver struct {
	calls  [][]string
	result map[string]core.Origin
	err    error
}

func (r *countingResolver) Resolve(_ context.Context, ids []string) (map[string]core.Origin, error) {
	r.calls = append(r.calls, append([]string(nil), ids...))
	out := make(map[string]core.Origin)
	for _, id := range ids {
		if o, ok := r.result[id]; ok {
			out[id] = o
		}
	}
	return out, r.err
}

func TestStaticResolve(t *testing.T) {
	s := Static{"1.1.1.1": {CountryCode: "AU"}}
	got, err := s.Resolve(context.Background(), []string{"1.1.1.1", "2.2.2.2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]core.Origin{"1.1.1.1": {CountryCode: "AU"}}, got)
}

func TestChainPassesLeftovers(t *testing.T) {
	boom := errors.New("boom")
	first := Static{"1.1.1.1": {CountryCode: "AU"}}
	second := &countingResolver{
		result: map[string]core.Origin{"2.2.2.2": {CountryCode: "DE"}},
		err:    boom,
	}

	got, err := Chain{first, second}.Resolve(context.Background(), []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "AU", got["1.1.1.1"].CountryCode)
	assert.Equal(t, "DE", got["2.2.2.2"].CountryCode)
	assert.NotContains(t, got, "3.3.3.3")
	require.Len(t, second.calls, 1)
	assert.Equal(t, []string{"2.2.2.2", "3.3.3.3"}, second.calls[0])
}

func TestChainStopsWhenResolved(t *testing.T) {
	second := &countingResolver{}
	got, err := Chain{Static{"1.1.1.1": {}}, second}.Resolve(context.Background(), []string{"1.1.1.1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Empty(t, second.calls)
}

func TestCachedServesHits(t *testing.T) {
	next := &countingResolver{result: map[string]core.Origin{"1.1.1.1": {CountryCode: "AU"}}}
	c := NewCached(next, time.Minute)

	_, err := c.Resolve(context.Background(), []string{"1.1.1.1"})
	require.NoError(t, err)
	got, err := c.Resolve(context.Background(), []string{"1.1.1.1"})
	require.NoError(t, err)

	assert.Equal(t, "AU", got["1.1.1.1"].CountryCode)
	assert.Len(t, next.calls, 1)
}

func TestCachedRetriesFailures(t *testing.T) {
	next := &countingResolver{err: errors.New("registry down")}
	c := NewCached(next, time.Minute)

	_, err := c.Resolve(context.Background(), []string{"1.1.1.1"})
	assert.Error(t, err)

	next.err = nil
	next.result = map[string]core.Origin{"1.1.1.1": {CountryCode: "AU"}}
	got, err := c.Resolve(context.Background(), []string{"1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, "AU", got["1.1.1.1"].CountryCode)
	assert.Len(t, next.calls, 2)
}

func TestNew(t *testing.T) {
	assert.Nil(t, New(config.EnrichmentConfig{}))

	r := New(config.EnrichmentConfig{Static: []config.StaticOriginEntry{{Address: "1.1.1.1", CountryCode: "AU"}}})
	require.IsType(t, Static{}, r)

	r = New(config.EnrichmentConfig{
		Whois:    config.WhoisConfig{Enabled: true, Address: "127.0.0.1:1"},
		CacheTTL: time.Minute,
		Static:   []config.StaticOriginEntry{{Address: "1.1.1.1"}},
	})
	chain, ok := r.(Chain)
	require.True(t, ok)
	require.Len(t, chain, 2)
	assert.IsType(t, &Cached{}, chain[1])
}

func TestCymruQueryFormat(t *testing.T) {
	addr, queries := fakeWhois(t, "")
	_, err := NewCymru(addr, time.Second).Resolve(context.Background(), []string{"::1"})
	require.NoError(t, err)
	assert.Equal(t, "begin\nverbose\n::1\nend", strings.Join(<-queries, "\n"))
}
