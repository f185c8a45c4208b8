package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClaimSlug atomically reserves slug for serviceID with SETNX.
// Claiming a slug already held by serviceID succeeds.
func (s *Store) ClaimSlug(ctx context.Context, slug, serviceID string) (bool, error) {
	key := SlugKey(slug)
	ok, err := s.client.SetNX(ctx, key, serviceID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim slug: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Released between SETNX and GET: let the caller retry the same candidate.
			return s.ClaimSlug(ctx, slug, serviceID)
		}
		return false, fmt.Errorf("failed to read slug holder: %w", err)
	}
	return holder == serviceID, nil
}

// releaseScript deletes the key only if it still holds the expected owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseSlug frees slug if serviceID still holds it
func (s *Store) ReleaseSlug(ctx context.Context, slug, serviceID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{SlugKey(slug)}, serviceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release slug: %w", err)
	}
	return nil
}
