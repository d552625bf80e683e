package swim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
)

// ErrInvalidEndpoint is returned when a wire-encoded endpoint cannot be
// decoded.
var ErrInvalidEndpoint = errors.New("swim: invalid endpoint")

type addrFamily byte

const (
	_ addrFamily = iota
	familyIP4
	familyIP6
)

// Endpoint identifies a member by its UDP socket address. It is comparable
// so it can be used directly as a map key, unlike net.UDPAddr.
type Endpoint struct {
	ap netip.AddrPort
}

// NewEndpoint wraps an already-resolved address and port.
func NewEndpoint(ap netip.AddrPort) Endpoint {
	return Endpoint{ap: ap}
}

// ParseEndpoint parses a "host:port" string. The host may be a literal IP
// address or a hostname; hostnames are resolved once, at parse time.
func ParseEndpoint(s string) (Endpoint, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return Endpoint{ap: ap}, nil
	}

	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return Endpoint{}, err
	}
	ap := addr.AddrPort()
	if !ap.IsValid() {
		return Endpoint{}, ErrInvalidEndpoint
	}
	return Endpoint{ap: ap}, nil
}

// AddrPort returns the underlying address and port.
func (e Endpoint) AddrPort() netip.AddrPort {
	return e.ap
}

// IsValid reports whether the endpoint holds an address.
func (e Endpoint) IsValid() bool {
	return e.ap.IsValid()
}

// String formats the endpoint as "host:port".
func (e Endpoint) String() string {
	return e.ap.String()
}

// MarshalBinary implements encoding.BinaryMarshaler using the wire layout
// a one-byte address-family tag, the raw address
// bytes, then the port as a big-endian uint16.
func (e Endpoint) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := appendEndpoint(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The given slice
// must contain exactly one encoded endpoint, no trailing bytes.
func (e *Endpoint) UnmarshalBinary(data []byte) error {
	ep, rest, err := readEndpoint(data)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return ErrInvalidEndpoint
	}
	*e = ep
	return nil
}

// endpointWireLen returns the number of bytes an encoded endpoint occupies,
// including the leading family tag, based on the family.
func endpointWireLen(family addrFamily) (int, bool) {
	switch family {
	case familyIP4:
		return 1 + 4 + 2, true
	case familyIP6:
		return 1 + 16 + 2, true
	default:
		return 0, false
	}
}

// appendEndpoint writes the wire encoding of e to buf.
func appendEndpoint(buf *bytes.Buffer, e Endpoint) error {
	addr := e.ap.Addr().Unmap()
	port := e.ap.Port()

	if addr.Is4() {
		buf.WriteByte(byte(familyIP4))
		a4 := addr.As4()
		buf.Write(a4[:])
	} else if addr.Is6() {
		buf.WriteByte(byte(familyIP6))
		a16 := addr.As16()
		buf.Write(a16[:])
	} else {
		return ErrInvalidEndpoint
	}

	return binary.Write(buf, binary.BigEndian, port)
}

// readEndpoint decodes one endpoint from the front of data, returning the
// decoded endpoint and the unconsumed remainder.
func readEndpoint(data []byte) (Endpoint, []byte, error) {
	if len(data) < 1 {
		return Endpoint{}, nil, ErrInvalidEndpoint
	}

	family := addrFamily(data[0])
	wireLen, ok := endpointWireLen(family)
	if !ok || len(data) < wireLen {
		return Endpoint{}, nil, ErrInvalidEndpoint
	}

	body := data[1:wireLen]
	var addr netip.Addr
	switch family {
	case familyIP4:
		addr = netip.AddrFrom4([4]byte(body[:4]))
		body = body[4:]
	case familyIP6:
		addr = netip.AddrFrom16([16]byte(body[:16]))
		body = body[16:]
	}

	port := binary.BigEndian.Uint16(body)
	return Endpoint{ap: netip.AddrPortFrom(addr, port)}, data[wireLen:], nil
}
