package codec

import (
	"bytes"
	"errors"
	"net/http"
	"reflect"
	"testing"
)

type stored struct {
	Status int         `json:"status" msgpack:"status"`
	Header http.Header `json:"header,omitempty" msgpack:"header,omitempty"`
	Body   []byte      `json:"body,omitempty" msgpack:"body,omitempty"`
}

func sample() stored {
	return stored{
		Status: 200,
		Header: http.Header{"Content-Type": {"text/javascript"}, "Etag": {`"abc"`}},
		Body:   []byte("console.log('offline')\x00\xff"),
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	codecs := map[string]Codec[stored]{
		"json":     JSON[stored]{},
		"msgpack":  Msgpack[stored]{},
		"cbor":     MustCBOR[stored](false),
		"cbor-det": MustCBOR[stored](true),
		"limit":    Limit[stored]{Inner: JSON[stored]{}, MaxDecode: 1 << 10},
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			in := sample()
			b, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(in, out) {
				t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
			}
		})
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c := MustCBOR[stored](true)
	a, _ := c.Encode(sample())
	for i := 0; i < 10; i++ {
		b, _ := c.Encode(sample())
		if !bytes.Equal(a, b) {
			t.Fatalf("deterministic encoding differs on run %d", i)
		}
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[stored]{Inner: MustCBOR[stored](false), MaxDecode: 8}
	b, err := c.Encode(sample())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = c.Decode(b)
	var se *SizeError
	if !errors.As(err, &se) || se.Op != "decode" || se.Size != len(b) || se.Max != 8 {
		t.Fatalf("Decode err = %v, want decode SizeError for %d bytes", err, len(b))
	}

	unlimited := Limit[stored]{Inner: MustCBOR[stored](false)}
	if _, err := unlimited.Decode(b); err != nil {
		t.Fatalf("zero limits must not bound: %v", err)
	}
}

func TestLimitRefusesLargeEncode(t *testing.T) {
	c := Limit[stored]{Inner: Msgpack[stored]{}, MaxEncode: 16}
	_, err := c.Encode(sample())
	var se *SizeError
	if !errors.As(err, &se) || se.Op != "encode" {
		t.Fatalf("Encode err = %v, want encode SizeError", err)
	}

	small := stored{Status: 204}
	if _, err := c.Encode(small); err != nil {
		t.Fatalf("small value refused: %v", err)
	}
}

func TestByName(t *testing.T) {
	for _, name := range append([]string{"", "CBOR"}, Names...) {
		c, err := ByName[stored](name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		b, err := c.Encode(sample())
		if err != nil {
			t.Fatalf("%q Encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil || !reflect.DeepEqual(out, sample()) {
			t.Fatalf("%q round trip: %+v, %v", name, out, err)
		}
	}
	if _, err := ByName[stored]("gob"); err == nil {
		t.Fatal("unknown codec accepted")
	}
}

func TestDecodeGarbageWrapsCodecName(t *testing.T) {
	garbage := []byte{0xff, 0x00, 0x13}
	for name, c := range map[string]Codec[stored]{
		"codec json":    JSON[stored]{},
		"codec msgpack": Msgpack[stored]{},
		"codec cbor":    MustCBOR[stored](false),
	} {
		_, err := c.Decode(garbage)
		if err == nil || !bytes.Contains([]byte(err.Error()), []byte(name)) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}
