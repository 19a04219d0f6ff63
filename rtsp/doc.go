// Package rtsp implements a minimal Sat>IP style RTSP client session on top
// of the octosock socket core: a TCP control connection for the RTSP
// dialogue and an even/odd UDP port pair receiving the RTP media stream and
// the RTCP tuner reports.
//
// Features
//
//   - Session lifecycle: Open issues SETUP and PLAY, Close sends a best
//     effort TEARDOWN.
//   - Media: Read blocks for the next RTP datagram and delivers its
//     payload; Client implements io.Reader.
//   - Keep-alive: the session is refreshed with OPTIONS once half of the
//     granted timeout has elapsed, from the Read path.
//   - Signal status: FillSignalStatus reports the tuner level, lock and
//     quality from the server's RTCP SES1 application packets, falling
//     back to a DESCRIBE when no report has arrived yet.
//   - Events: Trace, MediaState and Error callbacks.
//
// Example
//
//	c := rtsp.NewClient()
//	if err := c.Open("tuner1", "rtsp://10.0.0.2:554/?freq=11362&msys=dvbs"); err != nil {
//	    // handle open error
//	}
//	defer c.Close()
//
//	buf := make([]byte, 4096)
//	n, err := c.Read(buf)
//
// # Concurrency
//
// A Client is driven by one reader goroutine; only the event handlers and
// the tuner snapshot are safe to touch concurrently.
package rtsp

/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */
