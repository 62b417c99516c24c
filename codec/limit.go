package codec

import "fmt"

// SizeError reports a payload refused by Limit.
type SizeError struct {
	Op   string // "encode" | "decode"
	Size int
	Max  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec: %s %d bytes exceeds limit %d", e.Op, e.Size, e.Max)
}

// Limit bounds the payloads another codec produces and accepts. A response
// that encodes larger than MaxEncode is never written, and a stored payload
// larger than MaxDecode is never decoded into memory. Zero disables a bound.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

var _ Codec[struct{}] = Limit[struct{}]{}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, &SizeError{Op: "encode", Size: len(b), Max: c.MaxEncode}
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, &SizeError{Op: "decode", Size: len(b), Max: c.MaxDecode}
	}
	return c.Inner.Decode(b)
}
