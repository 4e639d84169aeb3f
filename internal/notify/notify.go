// Package notify implements the primary side of zone-change notification:
// sending RFC 1996 NOTIFY messages to every configured slave when a
// zone's SOA serial advances, retrying with backoff until acknowledged or
// the deadline lapses (spec.md §4.8).
package notify

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nsblast/nsblast/internal/metrics"
	"github.com/nsblast/nsblast/internal/support/task"
	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

// maxRequestIDs bounds the pool of in-flight NOTIFY message ids, per
// spec.md §4.8's "at most 4096 outstanding retries".
const maxRequestIDs = 4096

const (
	initialBackoff = 6 * time.Second
	maxBackoff     = 60 * time.Second
	retryDeadline  = 120 * time.Second

	// sendRateLimit/sendBurst cap how fast this process emits NOTIFY
	// datagrams (initial sends and retries combined) so a zone with many
	// slaves, or many zones changing at once, can't flood the network —
	// spec.md §4.8 leaves the exact pacing unspecified, so this mirrors
	// the initial/max backoff's order of magnitude.
	sendRateLimit = 50
	sendBurst     = 100
)

// idPool hands out DNS message ids for outstanding NOTIFYs, recycling
// released ids rather than ever reusing the full uint16 space linearly
// (a slave correlating by id alone would otherwise see stale acks).
type idPool struct {
	mu    sync.Mutex
	free  []uint16
	next  uint16
	inUse map[uint16]bool
}

func newIDPool() *idPool {
	return &idPool{inUse: make(map[uint16]bool), next: 1}
}

func (p *idPool) acquire() (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.inUse[id] = true
		return id, true
	}
	if len(p.inUse) >= maxRequestIDs {
		return 0, false
	}
	id := p.next
	p.next++
	p.inUse[id] = true
	return id, true
}

func (p *idPool) release(id uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[id] {
		return
	}
	delete(p.inUse, id)
	p.free = append(p.free, id)
}

// pendingNotify tracks one in-flight (zone apex, slave target) NOTIFY.
type pendingNotify struct {
	zone      string
	target    string
	id        uint16
	attempt   int
	deadline  time.Time
	nextRetry time.Time
}

// Notifier sends and retries NOTIFY messages over a shared UDP socket.
type Notifier struct {
	conn    net.PacketConn
	ids     *idPool
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[uint16]*pendingNotify

	sweep *task.Periodic
}

// New binds a UDP socket for sending (and receiving ACKs on) NOTIFY
// messages.
func New() (*Notifier, error) {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, xlog.New("open notify socket").Base(err).WithKind(xlog.KindInternal)
	}
	n := &Notifier{
		conn:    conn,
		ids:     newIDPool(),
		pending: make(map[uint16]*pendingNotify),
		limiter: rate.NewLimiter(rate.Limit(sendRateLimit), sendBurst),
	}
	n.sweep = &task.Periodic{Interval: time.Second, Execute: n.sweepOnce}
	return n, nil
}

// Start begins the retry sweep and the ACK-receive loop.
func (n *Notifier) Start() error {
	go n.receiveLoop()
	return n.sweep.Start()
}

// Close stops the sweep and closes the socket.
func (n *Notifier) Close() error {
	n.sweep.Close()
	return n.conn.Close()
}

// NotifyZone queues a NOTIFY to target for zone, sending the first
// attempt immediately.
func (n *Notifier) NotifyZone(zone, target string) error {
	id, ok := n.ids.acquire()
	if !ok {
		return xlog.New("notify request-id pool exhausted").WithKind(xlog.KindConflict)
	}
	p := &pendingNotify{
		zone:      zone,
		target:    target,
		id:        id,
		deadline:  time.Now().Add(retryDeadline),
		nextRetry: time.Now().Add(initialBackoff),
	}
	n.mu.Lock()
	n.pending[id] = p
	n.mu.Unlock()

	return n.send(p)
}

func (n *Notifier) send(p *pendingNotify) error {
	if err := n.limiter.Wait(context.Background()); err != nil {
		return xlog.New("notify rate limiter").Base(err).WithKind(xlog.KindInternal)
	}
	b := wire.NewBuilder(p.id, wire.OpcodeNotify, false, 512)
	if err := b.AddQuestion(wire.Question{Name: p.zone, Type: wire.TypeSOA, Class: wire.ClassIN}); err != nil {
		return err
	}
	b.SetFlags(true, false, false, false, wire.RcodeSuccess)
	addr, err := net.ResolveUDPAddr("udp", p.target)
	if err != nil {
		return xlog.New("resolve notify target").Base(err).WithKind(xlog.KindInternal)
	}
	_, err = n.conn.WriteTo(b.Finish(), addr)
	if err != nil {
		return xlog.New("send notify").Base(err).WithKind(xlog.KindInternal)
	}
	p.attempt++
	return nil
}

func (n *Notifier) sweepOnce() error {
	now := time.Now()
	var due []*pendingNotify
	var expired []uint16

	n.mu.Lock()
	for id, p := range n.pending {
		if now.After(p.deadline) {
			expired = append(expired, id)
			continue
		}
		if now.After(p.nextRetry) {
			due = append(due, p)
		}
	}
	for _, id := range expired {
		delete(n.pending, id)
	}
	n.mu.Unlock()

	for _, id := range expired {
		n.ids.release(id)
		xlog.New("notify retry deadline exceeded, giving up").AtWarning().WriteToLog()
	}
	for _, p := range due {
		backoff := initialBackoff << uint(p.attempt)
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
		p.nextRetry = now.Add(backoff)
		metrics.NotifyRetriesTotal.WithLabelValues(p.zone).Inc()
		if err := n.send(p); err != nil {
			xlog.New("notify retry send failed").Base(err).AtWarning().WriteToLog()
		}
	}
	return nil
}

// receiveLoop reads NOTIFY ACKs and retires matching pending entries,
// correlating by (apex, request id) per spec.md §4.8.
func (n *Notifier) receiveLoop() {
	buf := make([]byte, 512)
	for {
		size, _, err := n.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		msg, err := wire.Decode(buf[:size])
		if err != nil || !msg.Header.QR || msg.Header.Opcode != wire.OpcodeNotify {
			continue
		}
		n.mu.Lock()
		p, ok := n.pending[msg.Header.ID]
		if ok {
			if len(msg.Question) != 1 || normalizeZone(msg.Question[0].Name) != normalizeZone(p.zone) {
				ok = false
			}
		}
		if ok {
			delete(n.pending, msg.Header.ID)
		}
		n.mu.Unlock()
		if ok {
			n.ids.release(p.id)
		}
	}
}

func normalizeZone(z string) string {
	if len(z) > 0 && z[len(z)-1] == '.' {
		z = z[:len(z)-1]
	}
	return z
}

// Pending reports how many NOTIFYs are still awaiting acknowledgement,
// for metrics and tests.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
