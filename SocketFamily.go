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

// SocketFamily selects the address family used when resolving hostnames and
// building endpoint addresses.
type SocketFamily int

const (
	// FamilyUnspec lets hostname resolution return either an IPv4 or an
	// IPv6 address.
	FamilyUnspec SocketFamily = iota
	// FamilyIPv4 restricts addressing to IPv4.
	FamilyIPv4
	// FamilyIPv6 restricts addressing to IPv6.
	FamilyIPv6
)

// SocketFamilyParse converts the given string into a SocketFamily value.
//
// It returns the corresponding SocketFamily constant if the string matches
// a known family name, or an error if the input is invalid.
func SocketFamilyParse(value string) (SocketFamily, error) {
	var ret SocketFamily
	var err error
	switch strings.ToUpper(value) {
	case "UNSPEC":
		ret = FamilyUnspec
	case "IPV4":
		ret = FamilyIPv4
	case "IPV6":
		ret = FamilyIPv6
	default:
		err = fmt.Errorf("%w: %q", gxcommon.ErrUnknownEnum, value)
	}
	return ret, err
}

// String returns the canonical name of the address family.
// It satisfies fmt.Stringer.
func (f SocketFamily) String() string {
	var ret string
	switch f {
	case FamilyUnspec:
		ret = "UNSPEC"
	case FamilyIPv4:
		ret = "IPV4"
	case FamilyIPv6:
		ret = "IPV6"
	}
	return ret
}
