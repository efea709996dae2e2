// Package nameregistry implements the optional name-to-Address lookup
// spec.md section 6 allows alongside raw numeric addressing, backed by the
// teacher's infra/redis client (infra/redis/redis.go). A Framework never
// calls into this package itself: code that holds a Registry publishes a
// name with Register, and callers elsewhere in the cluster resolve it back
// to an Address without needing to know the numeric assignment out of band.
package nameregistry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisx "github.com/phuhao00/theron/infra/redis"

	"github.com/phuhao00/theron/address"
)

// KeyPrefix namespaces Theron's entries in a Redis keyspace shared with
// other systems.
const KeyPrefix = "theron:actor:"

// DefaultTTL bounds how long a name survives in Redis without being
// refreshed, so a crashed process's registrations eventually expire rather
// than resolving to a dead actor forever. Register re-publishes on every
// call, so a live Framework simply needs to re-announce periodically (e.g.
// on a timer, or once at startup for a long-lived name) to keep it current.
const DefaultTTL = 5 * time.Minute

// Registry resolves actor names to packed Addresses via Redis.
type Registry struct {
	client *redisx.RedisClient
	ttl    time.Duration
}

// New wraps an already-connected Redis client. ttl <= 0 uses DefaultTTL.
func New(client *redisx.RedisClient, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{client: client, ttl: ttl}
}

func key(name string) string {
	return KeyPrefix + name
}

// Register publishes name -> addr, refreshing its TTL.
func (r *Registry) Register(ctx context.Context, name string, addr address.Address) error {
	return r.client.Set(ctx, key(name), strconv.FormatUint(uint64(addr), 10), r.ttl)
}

// Resolve looks up the Address currently registered under name.
func (r *Registry) Resolve(ctx context.Context, name string) (address.Address, error) {
	raw, err := r.client.Get(ctx, key(name))
	if err != nil {
		return address.Null, fmt.Errorf("nameregistry: resolving %q: %w", name, err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return address.Null, fmt.Errorf("nameregistry: corrupt entry for %q: %w", name, err)
	}
	return address.Address(v), nil
}
