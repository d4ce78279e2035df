package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
	"github.com/dmarkov/verifio-backend/pkg/redis"
	"github.com/dmarkov/verifio-backend/pkg/security"
)

// consumeScript compares the stored digest against the candidate and deletes
// the key only on a match, all inside one server-side step. A wrong guess
// leaves the key (and its TTL) untouched; a right guess can never be replayed.
const consumeScript = `
local stored = redis.call('HGET', KEYS[1], 'digest')
if not stored then
	return 0
end
if stored ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`

const (
	fieldSalt   = "salt"
	fieldDigest = "digest"
)

// Cache holds per-user activation code digests in Redis. One live code per
// user; storing a new one overwrites the previous.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds the cache with the configured code lifetime.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// StoreHashedCode salts, hashes, and stores the code under the user's key
// with the configured TTL. The plaintext code never reaches Redis.
func (c *Cache) StoreHashedCode(ctx context.Context, userID uuid.UUID, code string) error {
	salt, digest, err := security.MakeCodeDigest(code)
	if err != nil {
		return err
	}
	key := c.client.ActivationKey(userID.String())
	fields := map[string]string{fieldSalt: salt, fieldDigest: digest}
	if err := c.client.HSetWithTTL(ctx, key, fields, c.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing activation code")
	}
	return nil
}

// VerifyAndConsume checks the candidate code and deletes the entry on
// success. Returns false for a missing key (expired or never issued), a
// malformed stored entry, or a digest mismatch.
func (c *Cache) VerifyAndConsume(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	key := c.client.ActivationKey(userID.String())

	entry, err := c.client.HGetAll(ctx, key)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading activation code")
	}
	salt, ok := entry[fieldSalt]
	if !ok || entry[fieldDigest] == "" {
		return false, nil
	}

	// Constant-time check first; the Lua step re-compares under the server
	// lock only to arbitrate concurrent winners.
	if !security.VerifyCodeDigest(code, salt, entry[fieldDigest]) {
		return false, nil
	}

	candidate, err := security.CodeDigest(code, salt)
	if err != nil {
		return false, nil
	}

	res, err := c.client.Eval(ctx, consumeScript, []string{key}, candidate)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consuming activation code")
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected consume result %T", res)
	}
	return n == 1, nil
}

// Invalidate drops any live code for the user.
func (c *Cache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.Del(ctx, c.client.ActivationKey(userID.String())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalidating activation code")
	}
	return nil
}
