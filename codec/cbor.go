package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the default codec for stored responses. Bodies are written as raw
// byte strings, so binary assets (fonts, images, wasm) cost no base64 inflation.
// Construct with NewCBOR or MustCBOR; the zero value has no modes.
//
// With deterministic set, equal responses encode to equal bytes (RFC 8949 core
// deterministic encoding, header names sorted).
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec cbor: %w", err)
	}
	// a header map with a repeated name is a corrupt entry, not a merge
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec cbor: %w", err)
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR panics where NewCBOR would fail, which only static options can cause.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("codec cbor: %w", err)
	}
	return v, nil
}
