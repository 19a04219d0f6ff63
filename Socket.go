/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

package octosock

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// MaxConnections is the number of pending connections a listening
	// socket queues before refusing new ones.
	MaxConnections = 1
	// MaxRecv is the default receive chunk size, sized for one Ethernet
	// MTU.
	MaxRecv = 1500
)

var (
	// ErrInvalidSocket is returned when an operation needs a live
	// descriptor and the socket has none.
	ErrInvalidSocket = errors.New("socket descriptor is not valid")
	// ErrInvalidState is returned when an operation is called out of
	// order, for example Listen before Bind.
	ErrInvalidState = errors.New("operation not allowed in current socket state")
	// ErrWouldBlock reports that a non-blocking operation found no data
	// or no pending connection. It is not a failure.
	ErrWouldBlock = errors.New("operation would block")
	// ErrNoHost is returned when hostname resolution produces no usable
	// address for the configured family.
	ErrNoHost = errors.New("hostname could not be resolved")
)

// socketState tracks where the descriptor is in its lifecycle. Transitions:
// unopened -> created -> {bound -> listening, connected}; Close returns to
// unopened from any state while keeping the configuration for a new Create.
type socketState int

const (
	stateUnopened socketState = iota
	stateCreated
	stateBound
	stateListening
	stateConnected
)

func (s socketState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateCreated:
		return "created"
	case stateBound:
		return "bound"
	case stateListening:
		return "listening"
	case stateConnected:
		return "connected"
	}
	return "unknown"
}

// Process-wide subsystem bootstrap reference count. Incremented when a
// Socket acquires the OS networking subsystem, decremented on Close; the
// subsystem is torn down only when the count reaches zero.
var (
	osRefMu sync.Mutex
	osRefs  int
)

// Socket owns at most one OS socket descriptor and exposes a blocking,
// synchronous API for stream and datagram communication. A Socket instance
// is not safe for concurrent use from multiple goroutines; callers that
// share one must serialize access themselves.
type Socket struct {
	sd    sysSocket
	state socketState

	family   SocketFamily
	domain   SocketDomain
	typ      SocketType
	protocol SocketProtocol

	// Last resolved endpoint and configuration for Connect/Reconnect.
	addr     netip.Addr
	hostname string
	port     uint16

	// ReadLine terminator and partial-line residue carried across calls.
	eol     byte
	lineBuf []byte

	// Set while this instance holds a reference on the OS networking
	// subsystem.
	osAcquired bool

	// Printer for localized diagnostics.
	p *message.Printer
}

// NewSocket creates an unopened stream socket with the default
// configuration: IPv4 addressing, Internet domain, TCP.
func NewSocket() *Socket {
	return NewSocketWith(FamilyIPv4, DomainInet, TypeStream, ProtocolTCP)
}

// NewSocketWith records the given configuration. No OS resource is
// allocated until Create is called; the parameterized constructor follows
// the same deferred-creation policy as NewSocket.
func NewSocketWith(family SocketFamily, domain SocketDomain, typ SocketType, protocol SocketProtocol) *Socket {
	s := &Socket{}
	s.initDefaults()
	s.family = family
	s.domain = domain
	s.typ = typ
	s.protocol = protocol
	return s
}

func (s *Socket) initDefaults() {
	s.sd = invalidSocket
	s.state = stateUnopened
	s.family = FamilyIPv4
	s.domain = DomainInet
	s.typ = TypeStream
	s.protocol = ProtocolTCP
	s.eol = '\n'
	s.Localize(language.AmericanEnglish)
}

// String returns the last configured endpoint as host:port.
// It satisfies fmt.Stringer.
func (s *Socket) String() string {
	return fmt.Sprintf("%s:%d", s.hostname, s.port)
}

// SetFamily selects the address family. Takes effect on the next Create.
func (s *Socket) SetFamily(family SocketFamily) { s.family = family }

// SetDomain selects the communication domain. Takes effect on the next
// Create.
func (s *Socket) SetDomain(domain SocketDomain) { s.domain = domain }

// SetType selects stream or datagram semantics. Takes effect on the next
// Create.
func (s *Socket) SetType(typ SocketType) { s.typ = typ }

// SetProtocol selects the transport protocol. Takes effect on the next
// Create.
func (s *Socket) SetProtocol(protocol SocketProtocol) { s.protocol = protocol }

// SetPort records the port used by the next Connect.
func (s *Socket) SetPort(port uint16) { s.port = port }

// SetLineTerminator sets the byte that ends a line for ReadLine. The
// default is '\n'; with that terminator a preceding '\r' is trimmed from
// the returned line.
func (s *Socket) SetLineTerminator(terminator byte) { s.eol = terminator }

// Hostname returns the last resolved or configured host.
func (s *Socket) Hostname() string { return s.hostname }

// Port returns the last configured port. After Bind with port zero it
// reports the port the OS assigned.
func (s *Socket) Port() uint16 { return s.port }

// IsValid reports whether the descriptor currently refers to a live OS
// resource.
func (s *Socket) IsValid() bool { return s.sd != invalidSocket }

// SetHostname resolves host for a later Connect and records the result.
// It fails when resolution cannot produce an address usable with the
// configured family.
func (s *Socket) SetHostname(host string) error {
	network := "ip"
	switch s.family {
	case FamilyIPv4:
		network = "ip4"
	case FamilyIPv6:
		network = "ip6"
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if (s.family == FamilyIPv4 && !ip.Is4()) || (s.family == FamilyIPv6 && ip.Is4()) {
			return fmt.Errorf("%s: %w", s.p.Sprintf("msg.no_address", s.family.String(), host), ErrNoHost)
		}
		s.addr = ip
		s.hostname = host
		return nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(context.Background(), network, host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%s: %w", s.p.Sprintf("msg.no_address", s.family.String(), host), ErrNoHost)
	}
	s.addr = addrs[0].Unmap()
	s.hostname = host
	return nil
}

// Create allocates the OS socket resource from the configured family,
// domain, type and protocol. On platforms requiring subsystem bootstrap the
// first live instance performs it; the bootstrap is reference counted. The
// descriptor is left invalid on failure.
func (s *Socket) Create() error {
	if s.state != stateUnopened {
		return fmt.Errorf("%w: create on a %s socket", ErrInvalidState, s.state)
	}
	if err := s.osInit(); err != nil {
		return fmt.Errorf("subsystem startup: %w", err)
	}
	domain, err := sysDomain(s.domain, s.family)
	if err != nil {
		s.osCleanup()
		return err
	}
	sd, err := sysCreate(domain, sysType(s.typ), sysProtocol(s.protocol))
	if err != nil {
		s.osCleanup()
		return s.opError("create", err)
	}
	s.sd = sd
	s.state = stateCreated
	return nil
}

// Close releases the descriptor if open, drops the subsystem reference and
// returns the socket to the unopened state while keeping its configuration.
// Closing an already closed socket is a no-op.
func (s *Socket) Close() error {
	if !s.IsValid() {
		s.state = stateUnopened
		return nil
	}
	err := sysClose(s.sd)
	s.sd = invalidSocket
	s.state = stateUnopened
	s.lineBuf = nil
	s.osCleanup()
	if err != nil {
		return s.opError("close", err)
	}
	return nil
}

// Bind binds the created socket to the given port on the local machine.
// Port zero asks the OS for an ephemeral port; the assigned port is then
// available through Port.
func (s *Socket) Bind(port uint16) error {
	if s.state != stateCreated {
		return fmt.Errorf("%w: bind requires a created socket, have %s", ErrInvalidState, s.state)
	}
	// Best effort; rebinding a recently used port should not fail.
	_ = sysReuseAddr(s.sd)
	ip := netip.IPv4Unspecified()
	if s.family == FamilyIPv6 {
		ip = netip.IPv6Unspecified()
	}
	if err := sysBind(s.sd, ip, port); err != nil {
		return s.opError("bind", err)
	}
	s.port = port
	if port == 0 {
		if assigned, err := sysLocalPort(s.sd); err == nil {
			s.port = assigned
		}
	}
	s.state = stateBound
	return nil
}

// Listen marks a bound stream socket as passive with a backlog of
// MaxConnections pending connections.
func (s *Socket) Listen() error {
	if s.state != stateBound {
		return fmt.Errorf("%w: listen requires a bound socket, have %s", ErrInvalidState, s.state)
	}
	if err := sysListen(s.sd, MaxConnections); err != nil {
		return s.opError("listen", err)
	}
	s.state = stateListening
	return nil
}

// Accept blocks until a peer connects and populates conn with the new
// connection. The listening socket keeps listening. conn must not already
// hold a descriptor; on failure it is left untouched.
func (s *Socket) Accept(conn *Socket) error {
	if conn == nil {
		return fmt.Errorf("%w: accept target is nil", ErrInvalidSocket)
	}
	if s.state != stateListening {
		return fmt.Errorf("%w: accept requires a listening socket, have %s", ErrInvalidState, s.state)
	}
	if conn.p == nil {
		// Zero-value target; normalize before use.
		conn.initDefaults()
	}
	if conn.IsValid() {
		return fmt.Errorf("%w: accept target already holds a descriptor", ErrInvalidState)
	}
	var (
		nfd  sysSocket
		peer netip.AddrPort
		err  error
	)
	for {
		nfd, peer, err = sysAccept(s.sd)
		if err == nil {
			break
		}
		if sysIsIntr(err) {
			continue
		}
		return s.opError("accept", err)
	}
	if err := conn.osInit(); err != nil {
		_ = sysClose(nfd)
		return fmt.Errorf("subsystem startup: %w", err)
	}
	conn.sd = nfd
	conn.state = stateConnected
	conn.family = s.family
	conn.domain = s.domain
	conn.typ = s.typ
	conn.protocol = s.protocol
	conn.eol = s.eol
	if peer.IsValid() {
		conn.addr = peer.Addr()
		conn.hostname = peer.Addr().String()
		conn.port = peer.Port()
	}
	return nil
}

// Connect resolves host per the configured family and opens a connection to
// host:port, blocking until it is established or the OS reports failure.
// Create is performed implicitly when the socket is still unopened.
func (s *Socket) Connect(host string, port uint16) error {
	if s.state == stateUnopened {
		if err := s.Create(); err != nil {
			return err
		}
	}
	if s.state != stateCreated {
		return fmt.Errorf("%w: connect requires a created socket, have %s", ErrInvalidState, s.state)
	}
	if err := s.SetHostname(host); err != nil {
		return err
	}
	s.port = port
	for {
		err := sysConnect(s.sd, s.addr, port)
		if err == nil || sysIsConnected(err) {
			break
		}
		if sysIsIntr(err) || sysIsAlready(err) {
			// The attempt keeps progressing in the kernel; poll until
			// the OS reports the outcome.
			continue
		}
		return s.opError("connect", err)
	}
	s.state = stateConnected
	return nil
}

// Reconnect closes any existing connection and repeats Connect with the
// last known hostname and port. Used to recover after transport drops.
func (s *Socket) Reconnect() error {
	if s.hostname == "" {
		return fmt.Errorf("%w: reconnect without a previous connection", ErrInvalidState)
	}
	host, port := s.hostname, s.port
	// The descriptor is released either way; a close failure must not
	// block the recovery path.
	_ = s.Close()
	return s.Connect(host, port)
}

// Send writes data to the connected descriptor with a single best-effort
// write and returns the number of bytes actually written; the whole buffer
// may not be sent in one call. data may be a string, a []byte or any value
// gxcommon.ToBytes understands.
func (s *Socket) Send(data any) (int, error) {
	buf, err := gxcommon.ToBytes(data, binary.BigEndian)
	if err != nil {
		return 0, err
	}
	return s.write(buf, false)
}

// SendAll behaves like Send but keeps writing until the entire buffer has
// been transmitted or an unrecoverable error occurs. On success the
// returned count always equals the buffer length.
func (s *Socket) SendAll(data any) (int, error) {
	buf, err := gxcommon.ToBytes(data, binary.BigEndian)
	if err != nil {
		return 0, err
	}
	return s.write(buf, true)
}

func (s *Socket) write(buf []byte, complete bool) (int, error) {
	if !s.IsValid() {
		return 0, ErrInvalidSocket
	}
	if s.state != stateConnected {
		return 0, fmt.Errorf("%w: send requires a connected socket, have %s", ErrInvalidState, s.state)
	}
	sent := 0
	for sent < len(buf) {
		n, err := sysWrite(s.sd, buf[sent:])
		if err != nil {
			if sysIsIntr(err) {
				continue
			}
			return sent, s.opError("send", err)
		}
		sent += n
		if !complete {
			break
		}
	}
	return sent, nil
}

// SendTo transmits data as one datagram to the given destination. The
// socket only needs to be created, not connected. On success the whole
// buffer was handed to the OS in a single datagram.
func (s *Socket) SendTo(data any, to netip.AddrPort) (int, error) {
	buf, err := gxcommon.ToBytes(data, binary.BigEndian)
	if err != nil {
		return 0, err
	}
	if !s.IsValid() {
		return 0, ErrInvalidSocket
	}
	for {
		err := sysSendto(s.sd, buf, to.Addr(), to.Port())
		if err != nil {
			if sysIsIntr(err) {
				continue
			}
			return 0, s.opError("sendto", err)
		}
		return len(buf), nil
	}
}

// Receive blocks, accumulating reads, until at least minPacketSize bytes
// are in buf, the buffer is full, or the connection is closed. It returns
// the total byte count. With minPacketSize zero it returns as soon as any
// data arrived. Bytes ReadLine buffered past the last terminator are
// consumed first, so mixing line and bulk reads never loses stream bytes.
// A peer close before any data yields gxcommon.ErrConnectionClosed.
func (s *Socket) Receive(buf []byte, minPacketSize int) (int, error) {
	if !s.IsValid() {
		return 0, ErrInvalidSocket
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if minPacketSize > len(buf) {
		minPacketSize = len(buf)
	}
	total := 0
	if len(s.lineBuf) > 0 {
		total = copy(buf, s.lineBuf)
		rest := s.lineBuf[total:]
		s.lineBuf = append(s.lineBuf[:0], rest...)
		if total >= minPacketSize || total == len(buf) {
			return total, nil
		}
	}
	for {
		n, err := sysRead(s.sd, buf[total:])
		if err != nil {
			if sysIsIntr(err) {
				continue
			}
			return total, s.opError("receive", err)
		}
		if n == 0 {
			if total == 0 {
				return 0, gxcommon.ErrConnectionClosed
			}
			return total, nil
		}
		total += n
		if total >= minPacketSize || total == len(buf) {
			return total, nil
		}
	}
}

// ReceiveString is the string convenience form of Receive. It reads into an
// internal buffer of MaxRecv bytes, or of minPacketSize bytes when the
// minimum is larger.
func (s *Socket) ReceiveString(minPacketSize int) (string, error) {
	size := MaxRecv
	if minPacketSize > size {
		size = minPacketSize
	}
	buf := make([]byte, size)
	n, err := s.Receive(buf, minPacketSize)
	return string(buf[:n]), err
}

// RecvFrom receives one datagram and reports the sender's address. Intended
// for datagram sockets, connected or not.
func (s *Socket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	if !s.IsValid() {
		return 0, netip.AddrPort{}, ErrInvalidSocket
	}
	for {
		n, from, err := sysRecvfrom(s.sd, buf)
		if err != nil {
			if sysIsIntr(err) {
				continue
			}
			return 0, netip.AddrPort{}, s.opError("recvfrom", err)
		}
		return n, from, nil
	}
}

// ReadLine reads and buffers incoming bytes until the line terminator is
// observed and returns one complete line without the terminator. Partial
// line residue is kept across calls, so repeated calls drain a stream
// without losing or duplicating bytes.
func (s *Socket) ReadLine() (string, error) {
	if !s.IsValid() {
		return "", ErrInvalidSocket
	}
	chunk := make([]byte, MaxRecv)
	for {
		if i := bytes.IndexByte(s.lineBuf, s.eol); i >= 0 {
			line := s.lineBuf[:i]
			if s.eol == '\n' {
				line = bytes.TrimSuffix(line, []byte{'\r'})
			}
			out := string(line)
			rest := s.lineBuf[i+1:]
			s.lineBuf = append(s.lineBuf[:0], rest...)
			return out, nil
		}
		n, err := sysRead(s.sd, chunk)
		if err != nil {
			if sysIsIntr(err) {
				continue
			}
			return "", s.opError("readline", err)
		}
		if n == 0 {
			return "", gxcommon.ErrConnectionClosed
		}
		s.lineBuf = append(s.lineBuf, chunk[:n]...)
	}
}

// SetNonBlocking toggles the descriptor between blocking and non-blocking
// mode. On failure the previous mode is left unchanged. In non-blocking
// mode, receive operations that find no data return ErrWouldBlock.
func (s *Socket) SetNonBlocking(enable bool) error {
	if !s.IsValid() {
		return ErrInvalidSocket
	}
	if err := sysSetNonblock(s.sd, enable); err != nil {
		return s.opError("set_non_blocking", err)
	}
	return nil
}

// osInit acquires one reference on the OS networking subsystem, performing
// the platform bootstrap for the first live instance.
func (s *Socket) osInit() error {
	if s.osAcquired {
		return nil
	}
	osRefMu.Lock()
	defer osRefMu.Unlock()
	if osRefs == 0 {
		if err := sysStartup(); err != nil {
			return err
		}
	}
	osRefs++
	s.osAcquired = true
	return nil
}

// osCleanup drops this instance's subsystem reference and tears the
// subsystem down when the last reference is gone.
func (s *Socket) osCleanup() {
	if !s.osAcquired {
		return
	}
	osRefMu.Lock()
	defer osRefMu.Unlock()
	osRefs--
	if osRefs == 0 {
		sysTeardown()
	}
	s.osAcquired = false
}

// opError wraps a platform error with a localized diagnostic. Would-block
// conditions map to ErrWouldBlock instead.
func (s *Socket) opError(op string, err error) error {
	if err == nil {
		return nil
	}
	if sysIsWouldBlock(err) {
		return fmt.Errorf("%s: %w", op, ErrWouldBlock)
	}
	return fmt.Errorf("%s: %w", s.errorMessage(op, err), err)
}

// errorMessage renders a human-readable, localized diagnostic for a failed
// operation. Purely advisory; it never raises.
func (s *Socket) errorMessage(op string, err error) string {
	return s.p.Sprintf("msg.op_failed", op, lastError(err))
}

// lastError normalizes the platform-specific last socket error to one
// integer domain: errno on POSIX, the WSA error code on Windows.
func lastError(err error) int {
	return sysErrno(err)
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.op_failed", "%s failed with socket error %d")
	message.SetString(language.AmericanEnglish, "msg.no_address", "no %s address found for %s")

	// --- German (de) ---
	message.SetString(language.German, "msg.op_failed", "%s fehlgeschlagen mit Socketfehler %d")
	message.SetString(language.German, "msg.no_address", "keine %s-Adresse für %s gefunden")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.op_failed", "%s epäonnistui socket-virheellä %d")
	message.SetString(language.Finnish, "msg.no_address", "osoitetta (%s) ei löytynyt kohteelle %s")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.op_failed", "%s misslyckades med socketfel %d")
	message.SetString(language.Swedish, "msg.no_address", "ingen %s-adress hittades för %s")
}

// Localize diagnostics for the specified language.
// No error is returned if the language is not supported.
func (s *Socket) Localize(language language.Tag) {
	s.p = message.NewPrinter(language)
}
