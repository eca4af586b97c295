package serviceresolver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultNameserver is the local stub resolver queried when none is given.
const DefaultNameserver = "127.0.0.53:53"

// NodeLabelPrefix prefixes the first label of every SRV target, followed by
// the party identifier: node-3.cluster.example.
const NodeLabelPrefix = "node-"

// SRVAddressBook resolves peer listener addresses from the SRV records of
// a single service name. Each record's target names the party it points at
// and its port is the peer listener port.
type SRVAddressBook struct {
	// Service is the SRV owner name, e.g. _skrecovery-peer._tcp.cluster.example.
	Service string
	// Nameserver is host:port of the resolver.
	Nameserver string
	Timeout    time.Duration
}

func NewSRVAddressBook(service, nameserver string) *SRVAddressBook {
	if nameserver == "" {
		nameserver = DefaultNameserver
	}
	return &SRVAddressBook{
		Service:    dns.Fqdn(service),
		Nameserver: nameserver,
		Timeout:    5 * time.Second,
	}
}

// Addresses implements transport.AddressBook.
func (b *SRVAddressBook) Addresses(ctx context.Context) (map[int]string, error) {
	records, err := b.lookup(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int]string, len(records))
	for _, srv := range records {
		id, err := PartyFromTarget(srv.Target)
		if err != nil {
			return nil, err
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("party %d advertised twice under %s", id, b.Service)
		}
		host := strings.TrimSuffix(srv.Target, ".")
		out[id] = net.JoinHostPort(host, strconv.Itoa(int(srv.Port)))
	}
	return out, nil
}

func (b *SRVAddressBook) lookup(ctx context.Context) ([]*dns.SRV, error) {
	m := new(dns.Msg)
	m.SetQuestion(b.Service, dns.TypeSRV)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: b.Timeout}
	in, _, err := c.ExchangeContext(ctx, m, b.Nameserver)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup %s: %w", b.Service, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("SRV lookup %s: %s", b.Service, dns.RcodeToString[in.Rcode])
	}

	var records []*dns.SRV
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("SRV lookup %s: no records", b.Service)
	}
	return records, nil
}

// PartyFromTarget extracts the party identifier from an SRV target.
func PartyFromTarget(target string) (int, error) {
	label, _, _ := strings.Cut(target, ".")
	digits, ok := strings.CutPrefix(label, NodeLabelPrefix)
	if !ok {
		return 0, fmt.Errorf("SRV target %q does not start with %q", target, NodeLabelPrefix)
	}
	id, err := strconv.Atoi(digits)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("SRV target %q has no party identifier", target)
	}
	return id, nil
}
