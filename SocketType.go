/*
 *  Copyright (C) 2005-2020 Team Kodi
 *  https://kodi.tv
 *
 *  SPDX-License-Identifier: GPL-2.0-or-later
 *  See LICENSE.md for more information.
 */

package octosock

import (
	"fmt"
	"strings"

	"github.com/Gurux/gxcommon-go"
)

// SocketType determines the base semantics of the descriptor: a connected
// byte stream or individual datagrams.
type SocketType int

const (
	// TypeStream is a sequenced, reliable byte stream.
	TypeStream SocketType = iota
	// TypeDatagram is connectionless, unreliable messages of a fixed
	// maximum length.
	TypeDatagram
)

// SocketTypeParse converts the given string into a SocketType value.
//
// It returns the corresponding SocketType constant if the string matches
// a known type name, or an error if the input is invalid.
func SocketTypeParse(value string) (SocketType, error) {
	var ret SocketType
	var err error
	switch strings.ToUpper(value) {
	case "STREAM":
		ret = TypeStream
	case "DATAGRAM":
		ret = TypeDatagram
	default:
		err = fmt.Errorf("%w: %q", gxcommon.ErrUnknownEnum, value)
	}
	return ret, err
}

// String returns the canonical name of the socket type.
// It satisfies fmt.Stringer.
func (t SocketType) String() string {
	var ret string
	switch t {
	case TypeStream:
		ret = "STREAM"
	case TypeDatagram:
		ret = "DATAGRAM"
	}
	return ret
}
