/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

package rtsp

import "fmt"

// SignalStatus is a snapshot of the tuner behind a running session, filled
// by Client.FillSignalStatus from the server's RTCP reports. Signal and SNR
// use the full unsigned 16 bit range so that consumers need not know the
// server's native scales.
type SignalStatus struct {
	// AdapterName identifies the session and the server frontend serving
	// it.
	AdapterName string
	// AdapterStatus is a short human readable lock description.
	AdapterStatus string
	// Locked reports whether the frontend has a signal lock.
	Locked bool
	// Signal is the signal level, 0..0xFFFF.
	Signal uint16
	// SNR is the signal quality, 0..0xFFFF.
	SNR uint16
}

// String returns a one-line summary for diagnostics.
func (s SignalStatus) String() string {
	return fmt.Sprintf("%s: %s, signal %d/65535, snr %d/65535", s.AdapterName, s.AdapterStatus, s.Signal, s.SNR)
}
