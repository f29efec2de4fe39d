// Package ipset models the sets fwup manages and renders them as
// `ipset restore` directives.
package ipset

import (
	"errors"
	"fmt"
	"net/netip"
)

// Type is an ipset set type.
type Type string

const (
	HashIP  Type = "hash:ip"
	HashNet Type = "hash:net"
)

// Family is the address family of a set.
type Family string

const (
	Inet  Family = "inet"
	Inet6 Family = "inet6"
)

// MaxNameLen is the kernel's limit on set names (IPSET_MAXNAMELEN - 1).
const MaxNameLen = 31

// DefaultMaxElem matches ipset's own default.
const DefaultMaxElem = 65536

var (
	ErrInvalidName    = errors.New("invalid set name")
	ErrInvalidAddress = errors.New("invalid member address")
	ErrInvalidSet     = errors.New("invalid set definition")
)

// Set is the definition of one managed set.
type Set struct {
	Name    string `json:"name" yaml:"name"`
	Type    Type   `json:"type" yaml:"type"`
	Family  Family `json:"family" yaml:"family"`
	MaxElem int    `json:"maxelem,omitempty" yaml:"maxelem,omitempty"`
}

// WithDefaults fills in the type, family and size when they are unset.
func (s Set) WithDefaults() Set {
	if s.Type == "" {
		s.Type = HashIP
	}
	if s.Family == "" {
		s.Family = Inet
	}
	if s.MaxElem == 0 {
		s.MaxElem = DefaultMaxElem
	}
	return s
}

// Validate checks the name, type, family and size.
func (s Set) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	switch s.Type {
	case HashIP, HashNet:
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidSet, s.Type)
	}
	switch s.Family {
	case Inet, Inet6:
	default:
		return fmt.Errorf("%w: unsupported family %q", ErrInvalidSet, s.Family)
	}
	if s.MaxElem < 0 {
		return fmt.Errorf("%w: maxelem must not be negative", ErrInvalidSet)
	}
	return nil
}

// ValidateName reports whether name is usable as a set name and safe to put
// on a restore line.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w: %q must be 1-%d bytes", ErrInvalidName, name, MaxNameLen)
	}
	for i := 0; i < len(name); i++ {
		if !nameByte(name[i]) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, name[i])
		}
	}
	return nil
}

func nameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '-', c == '.', c == ':':
		return true
	}
	return false
}

// ParseMember validates s as an entry of a set with the given family and
// type and returns its canonical form. hash:net sets accept bare addresses
// as host prefixes.
func ParseMember(family Family, typ Type, s string) (string, error) {
	switch typ {
	case HashIP:
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if err := checkFamily(family, addr); err != nil {
			return "", err
		}
		return addr.String(), nil
	case HashNet:
		var prefix netip.Prefix
		if addr, err := netip.ParseAddr(s); err == nil {
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		} else {
			p, perr := netip.ParsePrefix(s)
			if perr != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidAddress, perr)
			}
			prefix = p
		}
		if err := checkFamily(family, prefix.Addr()); err != nil {
			return "", err
		}
		if prefix.Bits() == 0 {
			return "", fmt.Errorf("%w: zero-length prefix %q", ErrInvalidAddress, s)
		}
		return prefix.Masked().String(), nil
	default:
		return "", fmt.Errorf("%w: unsupported type %q", ErrInvalidSet, typ)
	}
}

func checkFamily(family Family, addr netip.Addr) error {
	if addr.Zone() != "" {
		return fmt.Errorf("%w: zoned address %q", ErrInvalidAddress, addr)
	}
	switch family {
	case Inet:
		if !addr.Is4() {
			return fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidAddress, addr)
		}
	case Inet6:
		if !addr.Is6() || addr.Is4In6() {
			return fmt.Errorf("%w: %s is not an IPv6 address", ErrInvalidAddress, addr)
		}
	default:
		return fmt.Errorf("%w: unsupported family %q", ErrInvalidSet, family)
	}
	return nil
}
