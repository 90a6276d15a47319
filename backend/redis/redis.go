package redis

import (
	"context"
	"errors"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tabkeep/backend"
)

var ErrNilClient = errors.New("redis backend: nil client")

// Backend persists keys in Redis under "<Prefix>:<key>". Clear and Keys only
// see keys carrying the prefix, so several devices or users can share a server.
type Backend struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ backend.Backend = (*Backend)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Prefix      string // default "tabkeep"
	CloseClient bool   // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	p := cfg.Prefix
	if p == "" {
		p = "tabkeep"
	}
	return &Backend{rdb: cfg.Client, prefix: p + ":", closeClient: cfg.CloseClient}, nil
}

func (b *Backend) key(k string) string { return b.prefix + k }

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, b.key(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	// 0 => no expiry; the backend is durable storage, not a cache
	return b.rdb.Set(ctx, b.key(key), value, 0).Err()
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, b.key(key)).Err()
}

func (b *Backend) Clear(ctx context.Context) error {
	keys, err := b.scan(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		if err := b.rdb.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	raw, err := b.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, strings.TrimPrefix(k, b.prefix))
	}
	return out, nil
}

func (b *Backend) scan(ctx context.Context) ([]string, error) {
	var out []string
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

// Close releases the underlying redis client only when this backend owns it.
func (b *Backend) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
