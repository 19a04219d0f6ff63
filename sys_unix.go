/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

//go:build unix

package octosock

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/unix"
)

// sysSocket is the platform descriptor type.
type sysSocket = int

// invalidSocket marks a descriptor that does not refer to a live OS
// resource.
const invalidSocket sysSocket = -1

// sysStartup and sysTeardown bracket the process-wide networking subsystem.
// POSIX needs no bootstrap; both are no-ops kept so that the reference
// counting is exercised on every platform.
func sysStartup() error { return nil }

func sysTeardown() {}

// sysDomain maps the configured domain to the protocol family passed to the
// socket call. AF_* and PF_* values are identical on every supported target.
// DomainInet is promoted to the IPv6 family when the address family asks for
// IPv6 addressing.
func sysDomain(d SocketDomain, f SocketFamily) (int, error) {
	switch d {
	case DomainInet:
		if f == FamilyIPv6 {
			return unix.AF_INET6, nil
		}
		return unix.AF_INET, nil
	case DomainUnix:
		return unix.AF_UNIX, nil
	}
	return 0, fmt.Errorf("%w: domain %d", gxcommon.ErrUnknownEnum, int(d))
}

func sysType(t SocketType) int {
	if t == TypeDatagram {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

func sysProtocol(p SocketProtocol) int {
	if p == ProtocolUDP {
		return unix.IPPROTO_UDP
	}
	return unix.IPPROTO_TCP
}

func sysCreate(domain, typ, protocol int) (sysSocket, error) {
	sd, err := unix.Socket(domain, typ, protocol)
	if err != nil {
		return invalidSocket, err
	}
	return sd, nil
}

func sysClose(sd sysSocket) error {
	return unix.Close(sd)
}

func sysReuseAddr(sd sysSocket) error {
	return unix.SetsockoptInt(sd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func sysBind(sd sysSocket, ip netip.Addr, port uint16) error {
	sa, err := sysSockaddr(ip, port)
	if err != nil {
		return err
	}
	return unix.Bind(sd, sa)
}

func sysListen(sd sysSocket, backlog int) error {
	return unix.Listen(sd, backlog)
}

func sysAccept(sd sysSocket) (sysSocket, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept(sd)
	if err != nil {
		return invalidSocket, netip.AddrPort{}, err
	}
	return nfd, sockaddrPort(sa), nil
}

func sysConnect(sd sysSocket, ip netip.Addr, port uint16) error {
	sa, err := sysSockaddr(ip, port)
	if err != nil {
		return err
	}
	return unix.Connect(sd, sa)
}

func sysRead(sd sysSocket, p []byte) (int, error) {
	n, err := unix.Read(sd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func sysWrite(sd sysSocket, p []byte) (int, error) {
	n, err := unix.Write(sd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func sysSendto(sd sysSocket, p []byte, ip netip.Addr, port uint16) error {
	sa, err := sysSockaddr(ip, port)
	if err != nil {
		return err
	}
	return unix.Sendto(sd, p, 0, sa)
}

func sysRecvfrom(sd sysSocket, p []byte) (int, netip.AddrPort, error) {
	n, sa, err := unix.Recvfrom(sd, p, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, sockaddrPort(sa), nil
}

func sysSetNonblock(sd sysSocket, enable bool) error {
	return unix.SetNonblock(sd, enable)
}

func sysLocalPort(sd sysSocket) (uint16, error) {
	sa, err := unix.Getsockname(sd)
	if err != nil {
		return 0, err
	}
	return sockaddrPort(sa).Port(), nil
}

// sysSockaddr builds a platform socket address just before the syscall; the
// enum values never leak past this boundary.
func sysSockaddr(ip netip.Addr, port uint16) (unix.Sockaddr, error) {
	ip = ip.Unmap()
	switch {
	case ip.Is4():
		return &unix.SockaddrInet4{Port: int(port), Addr: ip.As4()}, nil
	case ip.Is6():
		return &unix.SockaddrInet6{Port: int(port), Addr: ip.As16()}, nil
	}
	return nil, fmt.Errorf("unsupported endpoint address %q", ip)
}

func sockaddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}
	return netip.AddrPort{}
}

// sysErrno normalizes the platform error to the numeric socket error code,
// the errno domain on POSIX.
func sysErrno(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}

func sysIsIntr(err error) bool {
	var errno unix.Errno
	return errors.As(err, &errno) && errno == unix.EINTR
}

func sysIsWouldBlock(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINPROGRESS
}

func sysIsConnected(err error) bool {
	var errno unix.Errno
	return errors.As(err, &errno) && errno == unix.EISCONN
}

// sysIsAlready reports a connect retried while the previous attempt is
// still in progress, after an interrupted blocking connect.
func sysIsAlready(err error) bool {
	var errno unix.Errno
	return errors.As(err, &errno) && errno == unix.EALREADY
}
