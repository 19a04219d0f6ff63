// Package octosock provides a minimal cross-platform TCP/UDP socket
// abstraction: one Socket object owning one OS descriptor, with a blocking,
// synchronous API for stream and datagram communication plus line-oriented
// reads. It normalizes the POSIX and Winsock socket APIs behind a single
// interface and is intended as the transport primitive for
// device-control/streaming clients such as the Sat>IP RTSP session in the
// rtsp subpackage.
//
// Features
//
//   - Configuration axes: SocketFamily, SocketDomain, SocketType and
//     SocketProtocol, resolved to the platform constants only at the
//     syscall boundary.
//   - Lifecycle: configure with setters, build with Create, terminate with
//     Close; a closed Socket keeps its configuration and may be created
//     again.
//   - Server side: Bind, Listen (backlog of one pending connection) and
//     Accept.
//   - Client side: Connect and Reconnect.
//   - Transmission: Send (best effort) and SendAll (complete buffer);
//     Receive with a minimum-bytes contract, SendTo and RecvFrom for
//     datagrams and ReadLine with partial-line buffering.
//   - Non-blocking mode via SetNonBlocking; would-block outcomes are
//     reported as ErrWouldBlock.
//   - Subsystem bootstrap (Winsock) is reference counted across all live
//     Socket instances.
//
// # Construction
//
// Use NewSocket for the defaults (IPv4, Internet domain, TCP stream) or
// NewSocketWith to pick every axis. Both only record configuration; the OS
// resource is allocated by Create, or implicitly by Connect.
//
// Example
//
//	s := octosock.NewSocket()
//	if err := s.Connect("10.0.0.2", 554); err != nil {
//	    // handle connect error
//	}
//	defer s.Close()
//
//	if _, err := s.SendAll("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"); err != nil {
//	    // handle send error
//	}
//	line, err := s.ReadLine()
//
// # Errors
//
// All failure is reported through return values; no call unwinds the stack
// with a panic. Transient interruptions (EINTR) are retried internally,
// would-block conditions map to ErrWouldBlock, and a peer close maps to
// gxcommon.ErrConnectionClosed. Diagnostics embedded in returned errors are
// localized through the x/text message catalog; see Localize.
//
// # Concurrency
//
// Every I/O operation blocks the calling goroutine until the OS completes
// the call. A Socket instance must not be used from two goroutines at once
// without external locking; only the process-wide subsystem bootstrap
// counter is protected internally. A blocked call can be aborted externally
// by closing the descriptor from another goroutine, platform semantics
// permitting.
//
// # Notes
//
// The zero value of Socket is not ready for use; always construct via
// NewSocket or NewSocketWith. Unix-domain descriptors can be created on
// POSIX targets only, and addressing is IP based: Bind, Connect and the
// datagram operations always work with IPv4/IPv6 endpoints.
package octosock

/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */
