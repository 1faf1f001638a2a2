package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Smadaqk5/hotspotconfig/internal/pkg/env"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis cache server used for
// gateway token caching and sweep leases.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

// releaseLeaseScript deletes the lease only while the caller's token is still
// the stored value, so a holder that outlived its TTL cannot drop a lease
// another instance has since taken.
var releaseLeaseScript = redis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

// AcquireLease takes a short-lived exclusive lease. When acquired it returns
// a holder token that ReleaseLease requires back. Used so only one instance
// runs the expiry sweep.
func AcquireLease(key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := GetClient().SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLease drops a lease taken with AcquireLease, provided the token
// still holds it.
func ReleaseLease(key, token string) error {
	return releaseLeaseScript.Run(ctx, GetClient(), []string{key}, token).Err()
}
