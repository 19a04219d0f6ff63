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
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestErrnoClassification(t *testing.T) {
	assert.Assert(t, sysIsIntr(unix.EINTR))
	assert.Assert(t, sysIsWouldBlock(unix.EAGAIN))
	assert.Assert(t, sysIsWouldBlock(unix.EINPROGRESS))
	assert.Assert(t, sysIsConnected(unix.EISCONN))
	// A connect retried after a signal reports the in-flight attempt;
	// that must count as retryable, not as a hard failure.
	assert.Assert(t, sysIsAlready(unix.EALREADY))

	assert.Assert(t, !sysIsIntr(unix.ECONNRESET))
	assert.Assert(t, !sysIsWouldBlock(unix.ECONNRESET))
	assert.Assert(t, !sysIsAlready(unix.ECONNRESET))
}
