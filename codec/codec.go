// Package codec turns stored responses into bytes and back.
// Output is framed by offcache before it reaches a Provider, so a codec only
// has to round-trip its own values.
package codec

import (
	"fmt"
	"strings"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Names lists the codecs ByName understands.
var Names = []string{"cbor", "json", "msgpack"}

// ByName returns the codec configured by name. An empty name selects CBOR.
// Switching codecs on a populated Provider makes every stored entry
// undecodable; such entries read as misses and are refetched.
func ByName[V any](name string) (Codec[V], error) {
	switch strings.ToLower(name) {
	case "", "cbor":
		return NewCBOR[V](false)
	case "json":
		return JSON[V]{}, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown %q (want one of %s)", name, strings.Join(Names, ", "))
	}
}
