package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version     byte = 1
	kindEntry   byte = 1
	kindLedger  byte = 2
	entryHeader      = 4 + 1 + 1 + 8 + 8 + 4
	ledgerHdr        = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("tabkeep: corrupt frame")
	magic4     = [...]byte{'T', 'K', 'E', 'P'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is one cached value.
//
//	magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | expiresAt(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
type Entry struct {
	Gen       uint64
	ExpiresAt int64
	Payload   []byte
}

func EncodeEntry(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(entryHeader + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Gen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(e.ExpiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entryHeader || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}
	off := 6

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	return Entry{Gen: gen, ExpiresAt: exp, Payload: b[off : off+vlen]}, nil
}

// Record is one persisted pending change.
//
//	magic(4) | ver(1) | kind(2=ledger) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | stamp(i64 be, unix nanos) | vlen(u32 be) | payload(vlen) * n
type Record struct {
	Key     string
	Stamp   int64
	Payload []byte
}

func EncodeLedger(recs []Record) ([]byte, error) {
	total := ledgerHdr
	for _, r := range recs {
		total += 2 + len(r.Key) + 8 + 4 + len(r.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindLedger)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(recs)))
	buf.Write(u4[:])

	for _, r := range recs {
		if l := len(r.Key); l == 0 || l > 0xFFFF {
			return nil, errors.New("tabkeep: invalid key length in ledger")
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(r.Key)))
		buf.Write(u2[:])
		buf.WriteString(r.Key)

		binary.BigEndian.PutUint64(u8[:], uint64(r.Stamp))
		buf.Write(u8[:])

		binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
		buf.Write(u4[:])
		buf.Write(r.Payload)
	}
	return buf.Bytes(), nil
}

func DecodeLedger(b []byte) ([]Record, error) {
	if len(b) < ledgerHdr || !hasMagic(b) || b[4] != version || b[5] != kindLedger {
		return nil, ErrCorrupt
	}
	off := 6

	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 || n > len(b) {
		return nil, ErrCorrupt
	}

	recs := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		key := string(b[off : off+klen])
		off += klen

		if off+8 > len(b) {
			return nil, ErrCorrupt
		}
		stamp := int64(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8

		if off+4 > len(b) {
			return nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return nil, ErrCorrupt
		}
		payload := make([]byte, vlen)
		copy(payload, b[off:off+vlen])
		off += vlen

		recs = append(recs, Record{Key: key, Stamp: stamp, Payload: payload})
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return recs, nil
}
