package codec

import (
	"encoding/json"
	"fmt"
)

// JSON is the human-readable codec. []byte fields are base64 encoded, so it is
// the largest of the three on binary assets; handy when a Provider is
// inspected by hand (redis-cli, files on disk).
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("codec json: %w", err)
	}
	return v, nil
}
