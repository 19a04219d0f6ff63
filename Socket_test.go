/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

package octosock

import (
	"net/netip"
	"testing"

	"github.com/Gurux/gxcommon-go"
	"gotest.tools/v3/assert"
)

func refCount() int {
	osRefMu.Lock()
	defer osRefMu.Unlock()
	return osRefs
}

// startListener returns a socket listening on an ephemeral loopback port.
func startListener(t *testing.T) (*Socket, uint16) {
	t.Helper()
	srv := NewSocket()
	assert.NilError(t, srv.Create())
	assert.NilError(t, srv.Bind(0))
	assert.NilError(t, srv.Listen())
	assert.Assert(t, srv.Port() != 0)
	return srv, srv.Port()
}

// connectPair returns a connected client/server socket pair over loopback.
func connectPair(t *testing.T) (cli, peer *Socket) {
	t.Helper()
	srv, port := startListener(t)
	t.Cleanup(func() { _ = srv.Close() })

	peer = NewSocket()
	accepted := make(chan error, 1)
	go func() { accepted <- srv.Accept(peer) }()

	cli = NewSocket()
	assert.NilError(t, cli.Connect("127.0.0.1", port))
	t.Cleanup(func() { _ = cli.Close() })
	assert.NilError(t, <-accepted)
	t.Cleanup(func() { _ = peer.Close() })
	return cli, peer
}

func TestNewSocketDefaults(t *testing.T) {
	s := NewSocket()
	assert.Assert(t, !s.IsValid())
	assert.Equal(t, uint16(0), s.Port())
	assert.Equal(t, ":0", s.String())
}

func TestEnumParse(t *testing.T) {
	f, err := SocketFamilyParse("ipv6")
	assert.NilError(t, err)
	assert.Equal(t, FamilyIPv6, f)
	assert.Equal(t, "IPV6", f.String())
	_, err = SocketFamilyParse("bogus")
	assert.ErrorIs(t, err, gxcommon.ErrUnknownEnum)

	d, err := SocketDomainParse("local")
	assert.NilError(t, err)
	assert.Equal(t, DomainUnix, d)
	assert.Equal(t, "UNIX", d.String())

	ty, err := SocketTypeParse("datagram")
	assert.NilError(t, err)
	assert.Equal(t, TypeDatagram, ty)

	p, err := SocketProtocolParse("udp")
	assert.NilError(t, err)
	assert.Equal(t, ProtocolUDP, p)
	_, err = SocketProtocolParse("sctp")
	assert.ErrorIs(t, err, gxcommon.ErrUnknownEnum)
}

func TestSubsystemRefCount(t *testing.T) {
	base := refCount()

	a := NewSocket()
	assert.NilError(t, a.Create())
	b := NewSocket()
	assert.NilError(t, b.Create())
	assert.Equal(t, base+2, refCount())

	assert.NilError(t, a.Close())
	assert.NilError(t, b.Close())
	assert.Equal(t, base, refCount())

	// Closing again must not drop the count below the live instances.
	assert.NilError(t, a.Close())
	assert.Equal(t, base, refCount())
}

func TestCreateTwiceFails(t *testing.T) {
	s := NewSocket()
	assert.NilError(t, s.Create())
	defer s.Close()
	assert.ErrorIs(t, s.Create(), ErrInvalidState)
}

func TestCloseKeepsConfiguration(t *testing.T) {
	s := NewSocketWith(FamilyIPv4, DomainInet, TypeDatagram, ProtocolUDP)
	assert.NilError(t, s.Create())
	assert.NilError(t, s.Close())
	assert.Assert(t, !s.IsValid())

	// The same instance can be created again after Close.
	assert.NilError(t, s.Create())
	assert.NilError(t, s.Close())
}

func TestSettersAfterCreateKeepDescriptor(t *testing.T) {
	s := NewSocket()
	assert.NilError(t, s.Create())
	defer s.Close()

	// The open descriptor stays a TCP stream; the new configuration
	// only applies to the next Create.
	s.SetType(TypeDatagram)
	s.SetProtocol(ProtocolUDP)
	assert.NilError(t, s.Bind(0))
	assert.NilError(t, s.Listen())

	assert.NilError(t, s.Close())
	assert.NilError(t, s.Create())
	assert.NilError(t, s.Bind(0))
	// A datagram descriptor cannot listen.
	assert.Assert(t, s.Listen() != nil)
}

func TestListenRequiresBound(t *testing.T) {
	s := NewSocket()
	assert.NilError(t, s.Create())
	defer s.Close()
	assert.ErrorIs(t, s.Listen(), ErrInvalidState)
}

func TestAcceptOnNonListeningFails(t *testing.T) {
	s := NewSocket()
	assert.NilError(t, s.Create())
	defer s.Close()

	target := NewSocket()
	assert.ErrorIs(t, s.Accept(target), ErrInvalidState)
	assert.Assert(t, !target.IsValid())

	assert.ErrorIs(t, s.Accept(nil), ErrInvalidSocket)
}

func TestStreamRoundTrip(t *testing.T) {
	cli, peer := connectPair(t)

	n, err := cli.SendAll("ping")
	assert.NilError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, err = peer.Receive(buf, len(buf))
	assert.NilError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Assert(t, peer.Hostname() != "")
	assert.Assert(t, peer.Port() != 0)

	_, err = peer.SendAll([]byte("pong"))
	assert.NilError(t, err)
	reply, err := cli.ReceiveString(4)
	assert.NilError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestReceiveMinimumAccumulates(t *testing.T) {
	cli, peer := connectPair(t)

	// Two separate writes; the reader must keep reading until the
	// minimum is satisfied even if they arrive as separate segments.
	_, err := peer.SendAll("he")
	assert.NilError(t, err)
	_, err = peer.SendAll("llo")
	assert.NilError(t, err)

	buf := make([]byte, 5)
	n, err := cli.Receive(buf, 5)
	assert.NilError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReceiveMinZeroReturnsFirstData(t *testing.T) {
	cli, peer := connectPair(t)

	_, err := peer.SendAll("x")
	assert.NilError(t, err)

	// One byte pending; the read must not wait for a full buffer.
	buf := make([]byte, 64)
	n, err := cli.Receive(buf, 0)
	assert.NilError(t, err)
	assert.Equal(t, 1, n)
}

func TestReceiveDrainsReadLineResidue(t *testing.T) {
	cli, peer := connectPair(t)

	// Line and trailing payload arrive as one segment; ReadLine's
	// readahead holds the payload and Receive must return it instead
	// of waiting on the descriptor.
	_, err := peer.SendAll("HDR\r\nBODY")
	assert.NilError(t, err)

	line, err := cli.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, "HDR", line)

	buf := make([]byte, 4)
	n, err := cli.Receive(buf, len(buf))
	assert.NilError(t, err)
	assert.Equal(t, "BODY", string(buf[:n]))
}

func TestReceivePeerClose(t *testing.T) {
	cli, peer := connectPair(t)

	assert.NilError(t, peer.Close())
	buf := make([]byte, 16)
	_, err := cli.Receive(buf, 1)
	assert.ErrorIs(t, err, gxcommon.ErrConnectionClosed)
}

func TestSendRequiresConnected(t *testing.T) {
	s := NewSocket()
	assert.NilError(t, s.Create())
	defer s.Close()
	_, err := s.SendAll("data")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReadLineSegmented(t *testing.T) {
	cli, peer := connectPair(t)

	_, err := peer.SendAll("AB")
	assert.NilError(t, err)
	_, err = peer.SendAll("CD\r\nEF\n")
	assert.NilError(t, err)

	line, err := cli.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, "ABCD", line)

	line, err = cli.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, "EF", line)

	// Stream drained; a non-blocking read has nothing to return.
	assert.NilError(t, cli.SetNonBlocking(true))
	_, err = cli.ReadLine()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestReadLineCustomTerminator(t *testing.T) {
	cli, peer := connectPair(t)

	cli.SetLineTerminator(';')
	_, err := peer.SendAll("one;two;")
	assert.NilError(t, err)

	line, err := cli.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, "one", line)
	line, err = cli.ReadLine()
	assert.NilError(t, err)
	assert.Equal(t, "two", line)
}

func TestDatagramSendToRecvFrom(t *testing.T) {
	rx := NewSocketWith(FamilyIPv4, DomainInet, TypeDatagram, ProtocolUDP)
	assert.NilError(t, rx.Create())
	defer rx.Close()
	assert.NilError(t, rx.Bind(0))

	tx := NewSocketWith(FamilyIPv4, DomainInet, TypeDatagram, ProtocolUDP)
	assert.NilError(t, tx.Create())
	defer tx.Close()

	dest := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), rx.Port())
	n, err := tx.SendTo("ping", dest)
	assert.NilError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, MaxRecv)
	n, from, err := rx.RecvFrom(buf)
	assert.NilError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Assert(t, from.Port() != 0)
	assert.Assert(t, from.Addr().Unmap().IsLoopback())

	// Nothing else pending.
	assert.NilError(t, rx.SetNonBlocking(true))
	_, _, err = rx.RecvFrom(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestReconnect(t *testing.T) {
	srv, port := startListener(t)
	defer srv.Close()

	peer := NewSocket()
	accepted := make(chan error, 1)
	go func() { accepted <- srv.Accept(peer) }()

	cli := NewSocket()
	assert.NilError(t, cli.Connect("127.0.0.1", port))
	assert.NilError(t, <-accepted)
	assert.NilError(t, peer.Close())

	// The second connection completes into the listen backlog.
	assert.NilError(t, cli.Reconnect())
	defer cli.Close()
	assert.Equal(t, "127.0.0.1", cli.Hostname())
	assert.Equal(t, port, cli.Port())
}

func TestReconnectAfterClose(t *testing.T) {
	srv, port := startListener(t)
	defer srv.Close()

	peer := NewSocket()
	accepted := make(chan error, 1)
	go func() { accepted <- srv.Accept(peer) }()

	cli := NewSocket()
	assert.NilError(t, cli.Connect("127.0.0.1", port))
	assert.NilError(t, <-accepted)
	assert.NilError(t, peer.Close())
	assert.NilError(t, cli.Close())

	// Recovery works even when the descriptor is already gone.
	assert.NilError(t, cli.Reconnect())
	defer cli.Close()
}

func TestReconnectWithoutConnect(t *testing.T) {
	s := NewSocket()
	assert.ErrorIs(t, s.Reconnect(), ErrInvalidState)
}

func TestSetHostnameFamilyMismatch(t *testing.T) {
	s := NewSocket()
	s.SetFamily(FamilyIPv6)
	assert.ErrorIs(t, s.SetHostname("127.0.0.1"), ErrNoHost)

	s.SetFamily(FamilyIPv4)
	assert.ErrorIs(t, s.SetHostname("::1"), ErrNoHost)
	assert.NilError(t, s.SetHostname("127.0.0.1"))
	assert.Equal(t, "127.0.0.1", s.Hostname())
}
