package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type sample struct {
	ID        string    `json:"id" cbor:"id" msgpack:"id"`
	Count     int       `json:"count" cbor:"count" msgpack:"count"`
	UpdatedAt time.Time `json:"updatedAt" cbor:"updatedAt" msgpack:"updatedAt"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out
}

func TestStructuredCodecsRoundTrip(t *testing.T) {
	in := sample{ID: "d1", Count: 3, UpdatedAt: time.Date(2026, 3, 1, 21, 4, 5, 123456789, time.UTC)}
	for _, name := range []string{"json", "cbor", "msgpack"} {
		c, err := ByName[sample](name)
		if err != nil {
			t.Fatalf("ByName(%s): %v", name, err)
		}
		got := roundTrip(t, c, in)
		if got.ID != in.ID || got.Count != in.Count || !got.UpdatedAt.Equal(in.UpdatedAt) {
			t.Fatalf("%s: got %+v want %+v", name, got, in)
		}
	}
	if _, err := ByName[sample]("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[sample]{Inner: JSON[sample]{}, MaxDecode: 8}
	b, _ := c.Encode(sample{ID: "long-enough"})
	if _, err := c.Decode(b); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	c.MaxDecode = 0
	if _, err := c.Decode(b); err != nil {
		t.Fatalf("limit disabled: %v", err)
	}
}

func TestTaggedValidatesKindVersionAndCheck(t *testing.T) {
	errNeg := errors.New("negative count")
	drinks := Tagged[sample]{
		Kind:    "drinks",
		Version: 1,
		Inner:   JSON[sample]{},
		Check: func(s sample) error {
			if s.Count < 0 {
				return errNeg
			}
			return nil
		},
	}

	got := roundTrip[sample](t, drinks, sample{ID: "a", Count: 1})
	if got.ID != "a" {
		t.Fatalf("round trip: %+v", got)
	}

	if _, err := drinks.Encode(sample{Count: -1}); !errors.Is(err, errNeg) {
		t.Fatalf("Encode should run Check: %v", err)
	}

	plans := drinks
	plans.Kind = "pregame_plans"
	b, _ := plans.Encode(sample{ID: "p"})
	if _, err := drinks.Decode(b); !errors.Is(err, ErrSchema) {
		t.Fatalf("kind mismatch: want ErrSchema, got %v", err)
	}

	newer := drinks
	newer.Version = 2
	b, _ = newer.Encode(sample{ID: "n"})
	if _, err := drinks.Decode(b); !errors.Is(err, ErrSchema) {
		t.Fatalf("newer version: want ErrSchema, got %v", err)
	}

	// an untagged payload written before schemas existed
	if _, err := drinks.Decode([]byte(`{"id":"x"}`)); err == nil {
		t.Fatal("expected error for untagged payload")
	}

	// valid tag, invalid body: Check runs on decode too
	raw, _ := JSON[sample]{}.Encode(sample{Count: -5})
	tagged := append([]byte{byte(len("drinks"))}, "drinks"...)
	tagged = append(tagged, 1)
	tagged = append(tagged, raw...)
	if _, err := drinks.Decode(tagged); !errors.Is(err, errNeg) {
		t.Fatalf("Decode should run Check: %v", err)
	}
}

func TestProtobufStruct(t *testing.T) {
	c := NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })
	in, err := structpb.NewStruct(map[string]any{"theme": "dark", "weeklyGoal": 14.0})
	if err != nil {
		t.Fatal(err)
	}
	got := roundTrip[*structpb.Struct](t, c, in)
	if !proto.Equal(got, in) {
		t.Fatalf("got %v want %v", got, in)
	}
}
