package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"price_service/internal/models"
	"price_service/internal/storage"

	"github.com/redis/go-redis/v9"
)

const categoriesKey = "categories:all"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisRepo struct {
	client     *redis.Client
	DefaultTTL time.Duration

	// tokens of the locks this process holds, by key
	mu     sync.Mutex
	tokens map[string]string
}

func New(ctx context.Context, address string, db int, defaultTTL time.Duration) (*RedisRepo, error) {
	const op = "storage.redis.New"

	rdb := redis.NewClient(&redis.Options{
		Addr: address,
		DB:   db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client:     rdb,
		DefaultTTL: defaultTTL,
		tokens:     make(map[string]string),
	}, nil
}

func (r *RedisRepo) SaveCategories(ctx context.Context, categories []models.Category) error {
	const op = "storage.redis.SaveCategories"

	data, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.client.Set(ctx, categoriesKey, data, r.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisRepo) Categories(ctx context.Context) ([]models.Category, error) {
	const op = "storage.redis.Categories"

	data, err := r.client.Get(ctx, categoriesKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrCacheMiss
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var categories []models.Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return categories, nil
}

// InvalidateCategories drops the cached listing so product counts are recomputed.
func (r *RedisRepo) InvalidateCategories(ctx context.Context) error {
	const op = "storage.redis.InvalidateCategories"

	if err := r.client.Del(ctx, categoriesKey).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Acquire takes a lock that expires after ttl. The returned release is a no-op
// once the lock has expired and been taken by someone else.
func (r *RedisRepo) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	const op = "storage.redis.Acquire"

	token, err := newToken()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}

	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.tokens[key] == token {
			delete(r.tokens, key)
		}
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
	}

	return release, true, nil
}

// Extend resets the ttl of a lock taken by Acquire. It reports false when this
// process does not hold the lock or it expired and was taken by someone else.
func (r *RedisRepo) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const op = "storage.redis.Extend"

	r.mu.Lock()
	token, ok := r.tokens[key]
	r.mu.Unlock()

	if !ok {
		return false, nil
	}

	n, err := extendScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n == 1, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (r *RedisRepo) Close() {
	r.client.Close()
}
