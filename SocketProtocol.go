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

// SocketProtocol determines which transport protocol is applied to the
// descriptor.
type SocketProtocol int

const (
	// ProtocolTCP defines that the TCP/IP protocol is used.
	ProtocolTCP SocketProtocol = iota
	// ProtocolUDP defines that the UDP protocol is used.
	ProtocolUDP
)

// SocketProtocolParse converts the given string into a SocketProtocol value.
//
// It returns the corresponding SocketProtocol constant if the string matches
// a known protocol name, or an error if the input is invalid.
func SocketProtocolParse(value string) (SocketProtocol, error) {
	var ret SocketProtocol
	var err error
	switch strings.ToUpper(value) {
	case "TCP":
		ret = ProtocolTCP
	case "UDP":
		ret = ProtocolUDP
	default:
		err = fmt.Errorf("%w: %q", gxcommon.ErrUnknownEnum, value)
	}
	return ret, err
}

// String returns the canonical name of the protocol.
// It satisfies fmt.Stringer.
func (p SocketProtocol) String() string {
	var ret string
	switch p {
	case ProtocolTCP:
		ret = "TCP"
	case ProtocolUDP:
		ret = "UDP"
	}
	return ret
}
