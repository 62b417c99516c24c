package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func mustDecodeEntry(t *testing.T, b []byte) (int64, []byte) {
	t.Helper()
	ts, p, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return ts, p
}

func mustDecodeIndex(t *testing.T, b []byte) []string {
	t.Helper()
	names, err := DecodeIndex(b)
	if err != nil {
		t.Fatalf("DecodeIndex error: %v", err)
	}
	return names
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []struct {
		ts      int64
		payload []byte
	}{
		{0, nil},
		{1_700_000_000_000_000_000, []byte("hello")},
		{math.MaxInt64, []byte{0, 1, 2, 3, 4}},
		{-1, []byte("negative clocks survive")},
	}
	for _, tc := range cases {
		enc := EncodeEntry(tc.ts, tc.payload)
		ts, p := mustDecodeEntry(t, enc)
		if ts != tc.ts {
			t.Fatalf("storedAt mismatch: got %d want %d", ts, tc.ts)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := EncodeEntry(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeEntry(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindIndex
	if _, _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen is at offset 14..17 (4 magic +1 ver +1 kind +8 storedAt)
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[14:18], uint32(len("abc")+1))
	if _, _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	trunc := enc[:len(enc)-1]
	if _, _, err := DecodeEntry(trunc); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}

	if _, _, err := DecodeEntry([]byte("not-wire-format")); err == nil {
		t.Fatalf("expected error on foreign bytes")
	}
}

func TestIndexRoundTripPreservesOrder(t *testing.T) {
	cases := [][]string{
		nil,
		{"v1"},
		{"v2", "v1", "v3"},
		{"GET https://app/", "GET https://app/app.js", ""},
	}
	for _, names := range cases {
		got := mustDecodeIndex(t, EncodeIndex(names))
		if len(got) != len(names) {
			t.Fatalf("len mismatch: got %d want %d", len(got), len(names))
		}
		for i := range names {
			if got[i] != names[i] {
				t.Fatalf("item %d: got %q want %q", i, got[i], names[i])
			}
		}
	}
}

func TestIndexSkipsUnknownFields(t *testing.T) {
	b := EncodeIndex([]string{"a"})
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, indexField, protowire.BytesType)
	b = protowire.AppendString(b, "b")

	got := mustDecodeIndex(t, b)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v want [a b]", got)
	}
}

func TestIndexCorrupt(t *testing.T) {
	enc := EncodeIndex([]string{"abc"})

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEntry
	if _, err := DecodeIndex(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// drop the last byte of the string payload
	if _, err := DecodeIndex(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated body")
	}

	if _, err := DecodeIndex(EncodeEntry(1, nil)); err == nil {
		t.Fatalf("entry frame must not decode as index")
	}
}
