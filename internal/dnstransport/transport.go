// Package dnstransport implements the UDP datagram loop and TCP
// length-prefixed framing spec.md §4.6 describes, dispatching every
// decoded message onto the shared worker pool (internal/support/worker)
// so a slow resolution never blocks the accept/receive loop.
package dnstransport

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/nsblast/nsblast/internal/support/signal"
	"github.com/nsblast/nsblast/internal/support/worker"
	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

// udpMaxDatagram is the largest UDP datagram this server will read; a
// client advertising a larger EDNS buffer than this is still capped here
// (spec.md §4.6).
const udpMaxDatagram = 4096

// defaultUDPSize is the reply budget used when a query carries no EDNS
// OPT record (RFC 1035 classic limit).
const defaultUDPSize = 512

// QueryHandler answers a decoded, non-NOTIFY query by writing into b.
type QueryHandler interface {
	Answer(b *wire.Builder, tenant string, q wire.Question) wire.Rcode
}

// NotifyHandler answers a NOTIFY message addressed to this server, acting
// as a slave zone's change signal (spec.md §4.8).
type NotifyHandler interface {
	HandleNotify(zone string, addr net.Addr) (ack bool)
}

// Server ties a QueryHandler/NotifyHandler pair to a tenant and a shared
// worker pool, backing both the UDP and TCP endpoints.
type Server struct {
	Tenant       string
	QueryHandler QueryHandler
	Notify       NotifyHandler
	Pool         *worker.Pool

	TCPIdleTimeout time.Duration
}

func (s *Server) tenant() string {
	if s.Tenant == "" {
		return "default"
	}
	return s.Tenant
}

// handleMessage decodes buf, answers it, and returns the wire bytes to
// send back (or nil if the message can't even be answered with
// FORMERR/SERVFAIL, e.g. too short to carry a header).
func (s *Server) handleMessage(buf []byte, maxSize uint16, addr net.Addr) []byte {
	msg, err := wire.Decode(buf)
	if err != nil {
		if xlog.KindOf(err) == xlog.KindMalformed && len(buf) >= 2 {
			// we at least have an ID; best-effort a FORMERR reply.
			b := wire.NewBuilder(binary.BigEndian.Uint16(buf[0:2]), wire.OpcodeQuery, false, defaultUDPSize)
			b.SetFlags(false, false, false, false, wire.RcodeFormatError)
			return b.Finish()
		}
		return nil
	}

	if msg.Header.Opcode == wire.OpcodeNotify {
		return s.handleNotify(msg, addr)
	}

	if len(msg.Question) != 1 {
		b := wire.NewBuilder(msg.Header.ID, msg.Header.Opcode, msg.Header.RD, maxSize)
		b.SetFlags(false, false, false, false, wire.RcodeFormatError)
		return b.Finish()
	}
	q := msg.Question[0]

	size, extRcode, ednsPresent := msg.EDNSBufferSize()
	if ednsPresent && size > maxSize {
		maxSize = size
		if maxSize > udpMaxDatagram {
			maxSize = udpMaxDatagram
		}
	}
	if maxSize == 0 {
		maxSize = defaultUDPSize
	}

	b := wire.NewBuilder(msg.Header.ID, msg.Header.Opcode, msg.Header.RD, maxSize)
	if err := b.AddQuestion(q); err != nil {
		b.SetFlags(false, false, false, false, wire.RcodeFormatError)
		return b.Finish()
	}

	var rcode wire.Rcode
	if s.QueryHandler != nil {
		rcode = s.QueryHandler.Answer(b, s.tenant(), q)
		// success paths set their own header flags; an error rcode is
		// written here so it always reaches the reply header
		if rcode != wire.RcodeSuccess {
			b.SetFlags(rcode == wire.RcodeNameError, false, false, false, rcode)
		}
	} else {
		rcode = wire.RcodeNotImplemented
		b.SetFlags(false, false, false, false, rcode)
	}

	if ednsPresent {
		b.SetOPT(0, extRcode, udpMaxDatagram)
	}
	return b.Finish()
}

func (s *Server) handleNotify(msg *wire.Message, addr net.Addr) []byte {
	rcode := wire.RcodeRefused
	if s.Notify != nil && len(msg.Question) == 1 {
		if ok := s.Notify.HandleNotify(msg.Question[0].Name, addr); ok {
			rcode = wire.RcodeSuccess
		}
	}
	b := wire.NewBuilder(msg.Header.ID, wire.OpcodeNotify, false, defaultUDPSize)
	if len(msg.Question) == 1 {
		b.AddQuestion(msg.Question[0])
	}
	b.SetFlags(true, false, false, false, rcode)
	return b.Finish()
}

// UDPServer serves DNS over a single UDP socket.
type UDPServer struct {
	*Server
	conn *net.UDPConn
}

// ListenUDP opens addr and returns a server ready to Serve.
func (s *Server) ListenUDP(addr string) (*UDPServer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, xlog.New("resolve udp address").Base(err).WithKind(xlog.KindInternal)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, xlog.New("listen udp").Base(err).WithKind(xlog.KindInternal)
	}
	return &UDPServer{Server: s, conn: conn}, nil
}

// Serve reads datagrams until the pool's context is cancelled or the
// socket is closed.
func (u *UDPServer) Serve() error {
	for {
		buf := make([]byte, udpMaxDatagram)
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.Pool.Context().Done():
				return nil
			default:
			}
			return xlog.New("udp read").Base(err).WithKind(xlog.KindInternal)
		}
		datagram := buf[:n]
		u.Pool.Submit(func() {
			reply := u.handleMessage(datagram, 0, addr)
			if reply == nil {
				return
			}
			if _, err := u.conn.WriteToUDP(reply, addr); err != nil {
				xlog.New("udp write reply").Base(err).AtWarning().WriteToLog()
			}
		})
	}
}

// Close closes the UDP socket.
func (u *UDPServer) Close() error { return u.conn.Close() }

// Addr returns the socket's bound local address, useful when ListenUDP was
// given port 0.
func (u *UDPServer) Addr() net.Addr { return u.conn.LocalAddr() }

// TCPServer serves DNS over length-prefixed TCP framing (RFC 1035 §4.2.2).
type TCPServer struct {
	*Server
	ln net.Listener
}

// ListenTCP opens addr and returns a server ready to Serve.
func (s *Server) ListenTCP(addr string) (*TCPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xlog.New("listen tcp").Base(err).WithKind(xlog.KindInternal)
	}
	return &TCPServer{Server: s, ln: ln}, nil
}

// Serve accepts connections until the pool's context is cancelled or the
// listener is closed.
func (t *TCPServer) Serve() error {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.Pool.Context().Done():
				return nil
			default:
			}
			return xlog.New("tcp accept").Base(err).WithKind(xlog.KindInternal)
		}
		t.Pool.Submit(func() { t.serveConn(conn) })
	}
}

func (t *TCPServer) serveConn(conn net.Conn) {
	defer conn.Close()

	idle := t.TCPIdleTimeout
	if idle == 0 {
		idle = 30 * time.Second
	}
	timer := signal.NewActivityTimer(idle, func() { conn.Close() })
	defer timer.Stop()

	lenBuf := make([]byte, 2)
	for {
		conn.SetReadDeadline(time.Now().Add(idle))
		if _, err := fullRead(conn, lenBuf); err != nil {
			return
		}
		msgLen := binary.BigEndian.Uint16(lenBuf)
		msgBuf := make([]byte, msgLen)
		if _, err := fullRead(conn, msgBuf); err != nil {
			return
		}
		timer.Update(idle)

		reply := t.handleMessage(msgBuf, 65535, conn.RemoteAddr())
		if reply == nil {
			return
		}
		out := make([]byte, 2+len(reply))
		binary.BigEndian.PutUint16(out, uint16(len(reply)))
		copy(out[2:], reply)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

// Close closes the TCP listener.
func (t *TCPServer) Close() error { return t.ln.Close() }

// Addr returns the listener's bound local address, useful when ListenTCP
// was given port 0.
func (t *TCPServer) Addr() net.Addr { return t.ln.Addr() }

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
