package store

import "context"

type prefixed struct {
	kv     KV
	prefix string
}

// Prefixed namespaces every key of kv under prefix. Closing the returned
// store does not close kv.
func Prefixed(kv KV, prefix string) KV {
	return &prefixed{kv: kv, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.kv.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.kv.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.kv.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Ping(ctx context.Context) error { return p.kv.Ping(ctx) }
func (p *prefixed) Close() error                   { return nil }
