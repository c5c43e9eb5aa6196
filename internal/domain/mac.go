package domain

import (
	"net"

	"github.com/juju/errors"
)

// ParseMACAddress returns the canonical form (lowercase, colon separated)
// of a 6 octet hardware address.
func ParseMACAddress(s string) (string, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", errors.NotValidf("MAC address %q", s)
	}
	return hw.String(), nil
}
