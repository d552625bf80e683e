package swim

import (
	lz4 "github.com/bkaradzic/go-lz4"
)

// LZ4Codec wraps another Codec, compressing its encoded output. Payloads
// in this protocol are already well under a UDP datagram's practical MTU,
// so this mostly exists for deployments over a metered or rate-limited
// link.
type LZ4Codec struct {
	Codec Codec
}

func (c LZ4Codec) Encode(msg *Message) ([]byte, error) {
	raw, err := c.Codec.Encode(msg)
	if err != nil {
		return nil, err
	}
	return lz4.Encode(nil, raw)
}

func (c LZ4Codec) Decode(data []byte) (*Message, error) {
	raw, err := lz4.Decode(nil, data)
	if err != nil {
		return nil, ErrMalformedMessage
	}
	return c.Codec.Decode(raw)
}
