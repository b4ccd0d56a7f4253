package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/netaddr"
)

const (
	mdnsPort     = 5353
	mdnsTTL      = 120
	maxPacketLen = 9000
)

var mdnsGroup = net.IPv4(224, 0, 0, 251)

// AddressSource resolves this host's address.
type AddressSource interface {
	Resolve() (netaddr.Address, error)
}

// Query is a pending mDNS lookup. An empty Type matches any record type.
type Query struct {
	Name string
	Type string
}

func (q Query) matches(rr dns.RR) bool {
	hdr := rr.Header()
	if !strings.EqualFold(dns.Fqdn(q.Name), hdr.Name) {
		return false
	}
	if q.Type == "" {
		return true
	}
	return dns.StringToType[strings.ToUpper(q.Type)] == hdr.Rrtype
}

// Answer is one record from a matched response.
type Answer struct {
	Name string
	Type string
	Data string
	// Host and Port are filled for SRV answers; Host falls back to the
	// SRV target when the response carries no address record for it.
	Host string
	Port int
	TTL  uint32
}

// Response pairs a pending query with the answer that resolved it.
type Response struct {
	Query  Query
	Answer Answer
}

// MDNSConfig configures the responder.
type MDNSConfig struct {
	// ServiceName is the fixed name answered with A and SRV records.
	ServiceName string
	// Port is advertised in the SRV record.
	Port int
}

type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// MDNS is the mDNS correlator and responder.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Response listeners run on the read goroutine in registration order.
type MDNS struct {
	cfg      MDNSConfig
	resolver AddressSource
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	pending   []Query
	listeners []*responseListener
	out       packetWriter
	conn      *net.UDPConn
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMDNS creates a responder. Call Start to join the multicast group.
func NewMDNS(cfg MDNSConfig, resolver AddressSource, logger *logging.Logger, m *metrics.Metrics) *MDNS {
	cfg.ServiceName = dns.Fqdn(cfg.ServiceName)
	return &MDNS{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Start joins 224.0.0.251:5353, sends questions for queries registered
// before start and begins reading packets.
func (d *MDNS) Start(ctx context.Context) error {
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: mdnsGroup, Port: mdnsPort})
	if err != nil {
		return fmt.Errorf("joining mdns group: %w", err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		conn.Close() //nolint:errcheck // closed concurrently
		return ErrClosed
	}
	d.conn = conn
	d.out = conn
	pending := slices.Clone(d.pending)
	d.mu.Unlock()

	for _, q := range pending {
		if err := d.sendQuestion(q); err != nil {
			d.logger.Warn("mdns query send failed", "name", q.Name, "error", err)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.readLoop(ctx, conn)
	}()

	d.logger.Info("mdns responder started", "service", d.cfg.ServiceName, "port", d.cfg.Port)
	return nil
}

func (d *MDNS) readLoop(ctx context.Context, conn *net.UDPConn) {
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() //nolint:errcheck // unblocks ReadFromUDP
		case <-d.done:
		}
	}()

	buf := make([]byte, maxPacketLen)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.logger.Warn("mdns read failed", "error", err)
			}
			return
		}
		if err := d.HandlePacket(buf[:n]); err != nil {
			d.logger.Debug("mdns packet ignored", "from", from, "error", err)
		}
	}
}

// Close leaves the multicast group. Safe to call more than once.
func (d *MDNS) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	conn := d.conn
	d.conn = nil
	d.out = nil
	d.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	d.wg.Wait()
	return err
}

// Query registers q as pending and multicasts the question. Registering
// an already pending query is a no-op. Before Start the question is
// deferred until the socket is open.
func (d *MDNS) Query(q Query) error {
	if q.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidQuery)
	}
	if q.Type != "" {
		if _, ok := dns.StringToType[strings.ToUpper(q.Type)]; !ok {
			return fmt.Errorf("%w: unknown record type %q", ErrInvalidQuery, q.Type)
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if slices.Contains(d.pending, q) {
		d.mu.Unlock()
		return nil
	}
	d.pending = append(d.pending, q)
	started := d.out != nil
	d.mu.Unlock()

	if !started {
		return nil
	}
	return d.sendQuestion(q)
}

// Pending returns a copy of the pending query set.
func (d *MDNS) Pending() []Query {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.pending)
}

type responseListener struct {
	fn func(Response)
}

// OnResponse registers a listener for matched responses. The returned
// func removes it.
func (d *MDNS) OnResponse(fn func(Response)) func() {
	l := &responseListener{fn: fn}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if i := slices.Index(d.listeners, l); i >= 0 {
			d.listeners = slices.Delete(d.listeners, i, i+1)
		}
	}
}

// HandlePacket processes one inbound packet.
func (d *MDNS) HandlePacket(data []byte) error {
	var msg dns.Msg
	if err := msg.Unpack(data); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	if msg.Response {
		d.handleResponse(&msg)
		return nil
	}
	return d.handleQuery(&msg)
}

// handleResponse resolves each pending query by its first matching
// answer and removes exactly that query.
func (d *MDNS) handleResponse(msg *dns.Msg) {
	records := append(slices.Clone(msg.Answer), msg.Extra...)

	d.mu.Lock()
	var matched []Response
	remaining := d.pending[:0:0]
	for _, q := range d.pending {
		idx := slices.IndexFunc(msg.Answer, q.matches)
		if idx < 0 {
			remaining = append(remaining, q)
			continue
		}
		matched = append(matched, Response{Query: q, Answer: answerFrom(msg.Answer[idx], records)})
	}
	if len(matched) > 0 {
		d.pending = remaining
	}
	listeners := slices.Clone(d.listeners)
	d.mu.Unlock()

	for _, resp := range matched {
		d.metrics.DiscoveryResponse()
		d.logger.Debug("mdns query answered", "name", resp.Query.Name, "data", resp.Answer.Data)
		for _, l := range listeners {
			l.fn(resp)
		}
	}
}

func (d *MDNS) handleQuery(msg *dns.Msg) error {
	asked := slices.ContainsFunc(msg.Question, func(q dns.Question) bool {
		return strings.EqualFold(q.Name, d.cfg.ServiceName)
	})
	if !asked {
		return nil
	}

	reply, err := d.buildReply(msg)
	if err != nil {
		return err
	}
	return d.send(reply)
}

func (d *MDNS) buildReply(query *dns.Msg) (*dns.Msg, error) {
	addr, err := d.resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving self address: %w", err)
	}

	target := hostTarget()
	reply := new(dns.Msg)
	reply.SetReply(query)
	reply.Authoritative = true
	reply.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{Name: d.cfg.ServiceName, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: mdnsTTL},
			A:   addr.IP,
		},
		&dns.SRV{
			Hdr:    dns.RR_Header{Name: d.cfg.ServiceName, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: mdnsTTL},
			Port:   uint16(d.cfg.Port), // #nosec G115 -- port validated by config
			Target: target,
		},
	}
	reply.Extra = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{Name: target, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: mdnsTTL},
			A:   addr.IP,
		},
	}
	return reply, nil
}

func (d *MDNS) sendQuestion(q Query) error {
	qtype := dns.TypeANY
	if q.Type != "" {
		qtype = dns.StringToType[strings.ToUpper(q.Type)]
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(q.Name), qtype)
	msg.RecursionDesired = false
	return d.send(msg)
}

func (d *MDNS) send(msg *dns.Msg) error {
	data, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("packing mdns message: %w", err)
	}

	d.mu.Lock()
	out := d.out
	d.mu.Unlock()
	if out == nil {
		return ErrClosed
	}

	if _, err := out.WriteToUDP(data, &net.UDPAddr{IP: mdnsGroup, Port: mdnsPort}); err != nil {
		return fmt.Errorf("sending mdns message: %w", err)
	}
	return nil
}

func answerFrom(rr dns.RR, records []dns.RR) Answer {
	hdr := rr.Header()
	a := Answer{
		Name: hdr.Name,
		Type: dns.TypeToString[hdr.Rrtype],
		TTL:  hdr.Ttl,
	}

	switch v := rr.(type) {
	case *dns.A:
		a.Data = v.A.String()
		a.Host = a.Data
	case *dns.AAAA:
		a.Data = v.AAAA.String()
		a.Host = a.Data
	case *dns.SRV:
		a.Data = v.Target
		a.Port = int(v.Port)
		a.Host = strings.TrimSuffix(v.Target, ".")
		for _, extra := range records {
			if ea, ok := extra.(*dns.A); ok && strings.EqualFold(ea.Hdr.Name, v.Target) {
				a.Host = ea.A.String()
				break
			}
		}
	case *dns.PTR:
		a.Data = v.Ptr
	case *dns.TXT:
		a.Data = strings.Join(v.Txt, ";")
	default:
		a.Data = strings.TrimPrefix(rr.String(), hdr.String())
	}
	return a
}

func hostTarget() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	host, _, _ = strings.Cut(host, ".")
	return dns.Fqdn(host + ".local")
}
