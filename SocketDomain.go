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

// SocketDomain specifies the communications domain within which
// communication takes place; it selects the protocol family passed to the
// socket creation call.
type SocketDomain int

const (
	// DomainInet is the Internet domain. With FamilyIPv6 the descriptor is
	// created in the IPv6 protocol family.
	DomainInet SocketDomain = iota
	// DomainUnix is the Unix local domain. Only available on POSIX
	// targets; Create fails with errors.ErrUnsupported elsewhere.
	DomainUnix
	// DomainLocal is an alias of DomainUnix.
	DomainLocal = DomainUnix
)

// SocketDomainParse converts the given string into a SocketDomain value.
//
// It returns the corresponding SocketDomain constant if the string matches
// a known domain name, or an error if the input is invalid.
func SocketDomainParse(value string) (SocketDomain, error) {
	var ret SocketDomain
	var err error
	switch strings.ToUpper(value) {
	case "INET":
		ret = DomainInet
	case "UNIX", "LOCAL":
		ret = DomainUnix
	default:
		err = fmt.Errorf("%w: %q", gxcommon.ErrUnknownEnum, value)
	}
	return ret, err
}

// String returns the canonical name of the communication domain.
// It satisfies fmt.Stringer.
func (d SocketDomain) String() string {
	var ret string
	switch d {
	case DomainInet:
		ret = "INET"
	case DomainUnix:
		ret = "UNIX"
	}
	return ret
}
