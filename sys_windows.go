/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

//go:build windows

package octosock

import (
	"errors"
	"fmt"
	"net/netip"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// sysSocket is the platform descriptor type.
type sysSocket = windows.Handle

// invalidSocket marks a descriptor that does not refer to a live OS
// resource.
const invalidSocket sysSocket = windows.InvalidHandle

var (
	modws2_32  = windows.NewLazySystemDLL("ws2_32.dll")
	procaccept = modws2_32.NewProc("accept")
)

// sysStartup initializes Winsock 2.2. It is called once for the first live
// Socket instance; sysTeardown undoes it when the last instance closes.
func sysStartup() error {
	var data windows.WSAData
	return windows.WSAStartup(uint32((2<<8)|2), &data)
}

func sysTeardown() {
	_ = windows.WSACleanup()
}

// sysDomain maps the configured domain to the protocol family passed to the
// socket call. Unix-domain sockets are a POSIX-only feature. DomainInet is
// promoted to the IPv6 family when the address family asks for IPv6
// addressing.
func sysDomain(d SocketDomain, f SocketFamily) (int, error) {
	switch d {
	case DomainInet:
		if f == FamilyIPv6 {
			return windows.AF_INET6, nil
		}
		return windows.AF_INET, nil
	case DomainUnix:
		return 0, fmt.Errorf("unix domain sockets: %w", errors.ErrUnsupported)
	}
	return 0, fmt.Errorf("unknown domain %d", int(d))
}

func sysType(t SocketType) int {
	if t == TypeDatagram {
		return windows.SOCK_DGRAM
	}
	return windows.SOCK_STREAM
}

func sysProtocol(p SocketProtocol) int {
	if p == ProtocolUDP {
		return windows.IPPROTO_UDP
	}
	return windows.IPPROTO_TCP
}

func sysCreate(domain, typ, protocol int) (sysSocket, error) {
	sd, err := windows.WSASocket(int32(domain), int32(typ), int32(protocol), nil, 0, 0)
	if err != nil {
		return invalidSocket, err
	}
	return sd, nil
}

func sysClose(sd sysSocket) error {
	return windows.Closesocket(sd)
}

func sysReuseAddr(sd sysSocket) error {
	return windows.SetsockoptInt(sd, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

func sysBind(sd sysSocket, ip netip.Addr, port uint16) error {
	sa, err := sysSockaddr(ip, port)
	if err != nil {
		return err
	}
	return windows.Bind(sd, sa)
}

func sysListen(sd sysSocket, backlog int) error {
	return windows.Listen(sd, backlog)
}

// sysAccept calls the plain blocking winsock accept; neither syscall nor
// x/sys wraps it (only AcceptEx, which requires overlapped I/O).
func sysAccept(sd sysSocket) (sysSocket, netip.AddrPort, error) {
	var rsa windows.RawSockaddrAny
	rsaLen := int32(unsafe.Sizeof(rsa))
	r, _, _ := procaccept.Call(
		uintptr(sd),
		uintptr(unsafe.Pointer(&rsa)),
		uintptr(unsafe.Pointer(&rsaLen)),
	)
	nfd := windows.Handle(r)
	if nfd == windows.InvalidHandle {
		return invalidSocket, netip.AddrPort{}, windows.WSAGetLastError()
	}
	sa, err := rsa.Sockaddr()
	if err != nil {
		// Peer address is advisory; the descriptor is still usable.
		return nfd, netip.AddrPort{}, nil
	}
	return nfd, sockaddrPort(sa), nil
}

func sysConnect(sd sysSocket, ip netip.Addr, port uint16) error {
	sa, err := sysSockaddr(ip, port)
	if err != nil {
		return err
	}
	return windows.Connect(sd, sa)
}

func sysRead(sd sysSocket, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var n, flags uint32
	if err := windows.WSARecv(sd, &buf, 1, &n, &flags, nil, nil); err != nil {
		return 0, err
	}
	return int(n), nil
}

func sysWrite(sd sysSocket, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var n uint32
	if err := windows.WSASend(sd, &buf, 1, &n, 0, nil, nil); err != nil {
		return 0, err
	}
	return int(n), nil
}

func sysSendto(sd sysSocket, p []byte, ip netip.Addr, port uint16) error {
	sa, err := sysSockaddr(ip, port)
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var n uint32
	return windows.WSASendto(sd, &buf, 1, &n, 0, sa, nil, nil)
}

func sysRecvfrom(sd sysSocket, p []byte) (int, netip.AddrPort, error) {
	n, sa, err := windows.Recvfrom(sd, p, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, sockaddrPort(sa), nil
}

func sysSetNonblock(sd sysSocket, enable bool) error {
	return windows.SetNonblock(sd, enable)
}

func sysLocalPort(sd sysSocket) (uint16, error) {
	sa, err := windows.Getsockname(sd)
	if err != nil {
		return 0, err
	}
	return sockaddrPort(sa).Port(), nil
}

// sysSockaddr builds a platform socket address just before the syscall; the
// enum values never leak past this boundary.
func sysSockaddr(ip netip.Addr, port uint16) (windows.Sockaddr, error) {
	ip = ip.Unmap()
	switch {
	case ip.Is4():
		return &windows.SockaddrInet4{Port: int(port), Addr: ip.As4()}, nil
	case ip.Is6():
		return &windows.SockaddrInet6{Port: int(port), Addr: ip.As16()}, nil
	}
	return nil, fmt.Errorf("unsupported endpoint address %q", ip)
}

func sockaddrPort(sa windows.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *windows.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}
	return netip.AddrPort{}
}

// sysErrno normalizes the platform error to the numeric socket error code,
// the WSAGetLastError domain on Windows.
func sysErrno(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}

func sysIsIntr(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == windows.WSAEINTR
}

func sysIsWouldBlock(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == windows.WSAEWOULDBLOCK || errno == windows.WSAEINPROGRESS
}

func sysIsConnected(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == windows.WSAEISCONN
}

// sysIsAlready reports a connect retried while the previous attempt is
// still in progress, after an interrupted blocking connect.
func sysIsAlready(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == windows.WSAEALREADY
}
