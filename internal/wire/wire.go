package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindIndex byte = 2

	hdrLen = 4 + 1 + 1

	// field number of the repeated string in an index body
	indexField protowire.Number = 1
)

var (
	ErrCorrupt = errors.New("offcache: corrupt entry")
	magic4     = [...]byte{'O', 'F', 'F', 'C'}
)

func hasHeader(b []byte, kind byte) bool {
	return len(b) >= hdrLen && bytes.Equal(b[:4], magic4[:]) && b[4] == version && b[5] == kind
}

func writeHeader(buf *bytes.Buffer, kind byte) {
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
}

// Entry: magic(4) | ver(1) | kind(1=entry) | storedAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeEntry(storedAt int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + 8 + 4 + len(payload))
	writeHeader(&buf, kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(storedAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry returns the store timestamp and the codec payload.
// The frame must be exact: trailing bytes are corruption.
func DecodeEntry(b []byte) (storedAt int64, payload []byte, err error) {
	const fixed = hdrLen + 8 + 4
	if len(b) < fixed || !hasHeader(b, kindEntry) {
		return 0, nil, ErrCorrupt
	}
	off := hdrLen

	storedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return storedAt, b[off : off+vlen], nil
}

// Index: magic(4) | ver(1) | kind(2=index) | body
//
// body is a protobuf message with a single `repeated string` field (1),
// so it stays readable by any protobuf tooling.
func EncodeIndex(names []string) []byte {
	size := hdrLen
	for _, n := range names {
		size += protowire.SizeTag(indexField) + protowire.SizeBytes(len(n))
	}
	b := make([]byte, 0, size)
	b = append(b, magic4[:]...)
	b = append(b, version, kindIndex)
	for _, n := range names {
		b = protowire.AppendTag(b, indexField, protowire.BytesType)
		b = protowire.AppendString(b, n)
	}
	return b
}

// DecodeIndex returns the names in insertion order. Unknown fields are skipped.
func DecodeIndex(b []byte) ([]string, error) {
	if !hasHeader(b, kindIndex) {
		return nil, ErrCorrupt
	}
	b = b[hdrLen:]

	var names []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrCorrupt
		}
		b = b[n:]
		if num == indexField && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, ErrCorrupt
			}
			names = append(names, string(v))
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return nil, ErrCorrupt
		}
		b = b[m:]
	}
	return names, nil
}
