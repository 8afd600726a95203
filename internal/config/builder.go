package config

import "time"

// Option mutates a Config under construction. Options are pure functions
// of (defaults, accumulated-so-far) so that applying them in any order
// yields the same final Config — the Go analogue of the original
// indexer's lazy, order-independent builder.
type Option func(*Config)

// Builder accumulates Options and resolves them against Defaults() only
// at Build time, so setting the network before or after the peer
// address never changes the result.
type Builder struct {
	opts []Option
}

// NewBuilder returns an empty Builder seeded from Defaults().
func NewBuilder() *Builder {
	return &Builder{}
}

// With appends one or more Options and returns the Builder for chaining.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build applies every accumulated Option, in the order they were added,
// against a fresh copy of Defaults(). Because each Option only ever sets
// the field(s) it owns, the observable result is independent of
// registration order for any set of Options that target disjoint fields.
func (b *Builder) Build() Config {
	cfg := Defaults()
	for _, opt := range b.opts {
		opt(&cfg)
	}
	return cfg
}

func WithNetwork(n Network) Option {
	return func(c *Config) { c.Network = n }
}

func WithPeerAddress(addr string) Option {
	return func(c *Config) { c.PeerAddress = addr }
}

func WithStoragePath(path string) Option {
	return func(c *Config) { c.StoragePath = path }
}

func WithBlockBatchSize(n uint32) Option {
	return func(c *Config) { c.BlockBatchSize = n }
}

func WithStartHeight(h uint32) Option {
	return func(c *Config) { c.StartHeight = h }
}

func WithRescan(rescan bool) Option {
	return func(c *Config) { c.Rescan = rescan }
}

func WithRPCBindAddress(addr string) Option {
	return func(c *Config) { c.RPCBindAddress = addr }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.ReconnectDelay = d }
}

func WithOrphanPoolCap(n int) Option {
	return func(c *Config) { c.OrphanPoolCap = n }
}

func WithTokenID(block uint64, tx uint32) Option {
	return func(c *Config) { c.TokenIDBlock = block; c.TokenIDTx = tx }
}
