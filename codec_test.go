package swim

import "testing"

func mustEndpoint(t *testing.T, s string) Endpoint {
	t.Helper()
	ep, err := ParseEndpoint(s)
	if err != nil {
		t.Fatalf("ParseEndpoint(%q): %v", s, err)
	}
	return ep
}

func TestBinaryCodecRoundTripPing(t *testing.T) {
	from := mustEndpoint(t, "127.0.0.1:1")
	msg := &Message{Kind: KindPing, ID: 42, From: from}

	var c BinaryCodec
	data, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) > MaxDatagramSize {
		t.Fatalf("encoded message exceeds MaxDatagramSize: %d", len(data))
	}

	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != msg.Kind || got.ID != msg.ID || got.From != msg.From {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestBinaryCodecRoundTripPingReq(t *testing.T) {
	from := mustEndpoint(t, "127.0.0.1:1")
	target := mustEndpoint(t, "[::1]:2")
	msg := &Message{Kind: KindPingReq, ID: 7, From: from, Target: target}

	var c BinaryCodec
	data, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != msg.Kind || got.ID != msg.ID || got.From != msg.From || got.Target != msg.Target {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestBinaryCodecDecodeRejectsShortInput(t *testing.T) {
	var c BinaryCodec
	if _, err := c.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestBinaryCodecDecodeRejectsUnknownKind(t *testing.T) {
	from := mustEndpoint(t, "127.0.0.1:1")
	var c BinaryCodec
	data, _ := c.Encode(&Message{Kind: KindPing, ID: 1, From: from})
	data[0] = 99

	if _, err := c.Decode(data); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestBinaryCodecDecodeRejectsTrailingGarbage(t *testing.T) {
	from := mustEndpoint(t, "127.0.0.1:1")
	var c BinaryCodec
	data, _ := c.Encode(&Message{Kind: KindAck, ID: 1, From: from})
	data = append(data, 0, 0, 0)

	if _, err := c.Decode(data); err == nil {
		t.Fatalf("expected error for trailing garbage")
	}
}

func TestLZ4CodecRoundTrip(t *testing.T) {
	from := mustEndpoint(t, "127.0.0.1:1")
	msg := &Message{Kind: KindPing, ID: 123, From: from}

	c := LZ4Codec{Codec: BinaryCodec{}}
	data, err := c.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != msg.Kind || got.ID != msg.ID || got.From != msg.From {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestLZ4CodecDecodeRejectsGarbage(t *testing.T) {
	c := LZ4Codec{Codec: BinaryCodec{}}
	if _, err := c.Decode([]byte{1, 2, 3, 4, 5}); err == nil {
		t.Fatalf("expected error decoding non-lz4 garbage")
	}
}
