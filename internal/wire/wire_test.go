package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecodeEntry(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []Entry{
		{Gen: 0, ExpiresAt: 0, Payload: nil},
		{Gen: 42, ExpiresAt: 1_700_000_000_000_000_000, Payload: []byte("hello")},
		{Gen: math.MaxUint64, ExpiresAt: -1, Payload: []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		got := mustDecodeEntry(t, EncodeEntry(tc))
		if got.Gen != tc.Gen || got.ExpiresAt != tc.ExpiresAt {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := EncodeEntry(Entry{Gen: 7, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeEntry(Entry{Gen: 1, ExpiresAt: 5, Payload: []byte("abc")})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindLedger
	if _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen sits after magic, ver, kind, gen and expiresAt
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[22:26], uint32(len("abc")+1))
	if _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	if _, err := DecodeEntry(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	cases := [][]Record{
		nil,
		{{Key: "drinks_u1", Stamp: 10, Payload: []byte(`[]`)}},
		{
			{Key: "a", Stamp: 1, Payload: []byte("x")},
			{Key: "a", Stamp: 2, Payload: nil},
			{Key: "budget_u1", Stamp: -3, Payload: []byte{9, 8, 7}},
		},
	}
	for _, tc := range cases {
		enc, err := EncodeLedger(tc)
		if err != nil {
			t.Fatalf("EncodeLedger: %v", err)
		}
		got, err := DecodeLedger(enc)
		if err != nil {
			t.Fatalf("DecodeLedger: %v", err)
		}
		if len(got) != len(tc) {
			t.Fatalf("len: got %d want %d", len(got), len(tc))
		}
		for i := range tc {
			if got[i].Key != tc[i].Key || got[i].Stamp != tc[i].Stamp || !bytes.Equal(got[i].Payload, tc[i].Payload) {
				t.Fatalf("record %d: got %+v want %+v", i, got[i], tc[i])
			}
		}
	}
}

func TestLedgerDecodeCopiesPayload(t *testing.T) {
	enc, _ := EncodeLedger([]Record{{Key: "k", Stamp: 1, Payload: []byte("Z")}})
	got, err := DecodeLedger(enc)
	if err != nil {
		t.Fatal(err)
	}
	enc[len(enc)-1] = 'Q'
	if got[0].Payload[0] != 'Z' {
		t.Fatalf("decoded payload aliases the input buffer")
	}
}

func TestLedgerRejectsBadInput(t *testing.T) {
	if _, err := EncodeLedger([]Record{{Key: "", Payload: nil}}); err == nil {
		t.Fatalf("expected error on empty key")
	}
	enc, _ := EncodeLedger([]Record{{Key: "k", Stamp: 1, Payload: []byte("abc")}})
	if _, err := DecodeLedger(enc[:len(enc)-2]); err == nil {
		t.Fatalf("expected error on truncated ledger")
	}
	if _, err := DecodeLedger(append(append([]byte(nil), enc...), 0)); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
	entry := EncodeEntry(Entry{Payload: []byte("x")})
	if _, err := DecodeLedger(entry); err == nil {
		t.Fatalf("expected kind mismatch error")
	}
}
