// Package enrich resolves IP addresses to network registry origins.
package enrich

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"firestige.xyz/pcapminer/internal/core"
)

const (
	// DefaultCymruAddr is the Team Cymru bulk whois service.
	DefaultCymruAddr = "whois.cymru.com:43"

	defaultCymruTimeout = 10 * time.Second
)

// Cymru queries the Team Cymru IP-to-ASN service in bulk mode. One
// connection serves one batch.
type Cymru struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewCymru creates a bulk whois client.
func NewCymru(addr string, timeout time.Duration) *Cymru {
	if addr == "" {
		addr = DefaultCymruAddr
	}
	if timeout <= 0 {
		timeout = defaultCymruTimeout
	}
	return &Cymru{addr: addr, timeout: timeout}
}

// Resolve sends one bulk query for ids. Lines received before a read
// error are returned along with the error.
func (c *Cymru) Resolve(ctx context.Context, ids []string) (map[string]core.Origin, error) {
	out := make(map[string]core.Origin, len(ids))
	query := make([]string, 0, len(ids))
	for _, id := range ids {
		if ip := net.ParseIP(id); ip != nil {
			query = append(query, id)
		}
	}
	if len(query) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return out, fmt.Errorf("dial whois %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var req strings.Builder
	req.WriteString("begin\nverbose\n")
	for _, id := range query {
		req.WriteString(id)
		req.WriteByte('\n')
	}
	req.WriteString("end\n")
	if _, err := conn.Write([]byte(req.String())); err != nil {
		return out, fmt.Errorf("write whois query: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		addr, origin, ok := parseCymruLine(scanner.Text())
		if ok {
			out[addr] = origin
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read whois response: %w", err)
	}
	return out, nil
}

// parseCymruLine parses one verbose bulk line:
//
//	AS | IP | BGP Prefix | CC | Registry | Allocated | AS Name
func parseCymruLine(line string) (string, core.Origin, bool) {
	fields := strings.Split(line, "|")
	if len(fields) < 4 {
		return "", core.Origin{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	asn, addr := fields[0], fields[1]
	if asn == "AS" || net.ParseIP(addr) == nil {
		return "", core.Origin{}, false
	}
	o := core.Origin{
		ASN:         clean(asn),
		Range:       clean(fields[2]),
		CountryCode: clean(fields[3]),
	}
	return addr, o, true
}

func clean(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}
