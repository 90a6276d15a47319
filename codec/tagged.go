package codec

import (
	"errors"
	"fmt"
)

// ErrSchema reports a payload whose tag does not match the expected entity
// kind or whose schema version is newer than this build understands.
var ErrSchema = errors.New("codec: schema mismatch")

// Tagged prefixes every payload with its entity kind and schema version and
// runs Check after decoding, so a value read back from storage is validated
// at the boundary instead of trusted at every call site.
//
//	kindLen(1) | kind(kindLen) | version(1) | inner payload
type Tagged[V any] struct {
	Kind    string
	Version byte
	Inner   Codec[V]
	Check   func(V) error // optional
}

func (c Tagged[V]) Encode(v V) ([]byte, error) {
	if l := len(c.Kind); l == 0 || l > 0xFF {
		return nil, fmt.Errorf("codec: invalid kind %q", c.Kind)
	}
	if c.Check != nil {
		if err := c.Check(v); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Kind, err)
		}
	}
	inner, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(c.Kind)+len(inner))
	out = append(out, byte(len(c.Kind)))
	out = append(out, c.Kind...)
	out = append(out, c.Version)
	return append(out, inner...), nil
}

func (c Tagged[V]) Decode(b []byte) (V, error) {
	var zero V
	if len(b) < 2 {
		return zero, fmt.Errorf("%w: short payload", ErrSchema)
	}
	klen := int(b[0])
	if len(b) < 1+klen+1 {
		return zero, fmt.Errorf("%w: short payload", ErrSchema)
	}
	if kind := string(b[1 : 1+klen]); kind != c.Kind {
		return zero, fmt.Errorf("%w: kind %q, want %q", ErrSchema, kind, c.Kind)
	}
	if ver := b[1+klen]; ver > c.Version {
		return zero, fmt.Errorf("%w: %s version %d newer than %d", ErrSchema, c.Kind, ver, c.Version)
	}
	v, err := c.Inner.Decode(b[2+klen:])
	if err != nil {
		return zero, fmt.Errorf("%s: %w", c.Kind, err)
	}
	if c.Check != nil {
		if err := c.Check(v); err != nil {
			return zero, fmt.Errorf("%s: %w", c.Kind, err)
		}
	}
	return v, nil
}
