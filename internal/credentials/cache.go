package credentials

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cache is the subset of a key/value cache the credentials layer needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ErrCacheMiss is returned when a key is not found in the cache
var ErrCacheMiss = errors.New("cache miss")

// CachedProvider fronts another Provider with a TTL cache. Cache failures
// fall through to the wrapped provider; configuration errors are never
// cached. The secret is sealed with the cache key before it leaves the
// process, so the cache only ever holds ciphertext for it.
type CachedProvider struct {
	next  Provider
	cache Cache
	ttl   time.Duration
	aead  cipher.AEAD
}

// cachedEntry is the stored form of Credentials.
type cachedEntry struct {
	OrganizationID string `json:"organization_id"`
	Username       string `json:"username"`
	BaseURL        string `json:"base_url"`
	SealedSecret   []byte `json:"sealed_secret"`
}

var errUnsealable = errors.New("cached secret cannot be opened")

// ParseCacheKey decodes a base64 key of chacha20poly1305.KeySize bytes.
func ParseCacheKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credentials cache key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials cache key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

func NewCachedProvider(next Provider, cache Cache, ttl time.Duration, key []byte) (*CachedProvider, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credentials cache cipher: %w", err)
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, aead: aead}, nil
}

var _ Provider = (*CachedProvider)(nil)

func cacheKey(organizationID string) string {
	return "credentials:" + organizationID
}

func (p *CachedProvider) Get(ctx context.Context, organizationID string) (*Credentials, error) {
	key := cacheKey(organizationID)

	if raw, err := p.cache.Get(ctx, key); err == nil {
		if creds, openErr := p.open(organizationID, raw); openErr == nil {
			return creds, nil
		}
		log.Warn().Str("organization_id", organizationID).Msg("Discarding undecodable cached credentials")
	} else if !errors.Is(err, ErrCacheMiss) {
		log.Warn().Err(err).Str("organization_id", organizationID).Msg("Credentials cache unavailable")
	}

	creds, err := p.next.Get(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	if raw, err := p.seal(creds); err == nil {
		if err := p.cache.Set(ctx, key, raw, p.ttl); err != nil {
			log.Warn().Err(err).Str("organization_id", organizationID).Msg("Failed to cache credentials")
		}
	}
	return creds, nil
}

// seal binds the ciphertext to the organization id, so an entry copied
// under another key does not open.
func (p *CachedProvider) seal(creds *Credentials) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(creds.Secret)+p.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(cachedEntry{
		OrganizationID: creds.OrganizationID,
		Username:       creds.Username,
		BaseURL:        creds.BaseURL,
		SealedSecret:   p.aead.Seal(nonce, nonce, []byte(creds.Secret), []byte(creds.OrganizationID)),
	})
}

func (p *CachedProvider) open(organizationID string, raw []byte) (*Credentials, error) {
	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if entry.OrganizationID != organizationID || len(entry.SealedSecret) < p.aead.NonceSize() {
		return nil, errUnsealable
	}

	nonce, sealed := entry.SealedSecret[:p.aead.NonceSize()], entry.SealedSecret[p.aead.NonceSize():]
	secret, err := p.aead.Open(nil, nonce, sealed, []byte(organizationID))
	if err != nil {
		return nil, errUnsealable
	}
	return &Credentials{
		OrganizationID: entry.OrganizationID,
		Username:       entry.Username,
		Secret:         string(secret),
		BaseURL:        entry.BaseURL,
	}, nil
}

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, prefix string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().
		Str("address", addr).
		Str("prefix", prefix).
		Int("db", db).
		Msg("Redis cache initialized")

	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) formatKey(key string) string {
	return c.prefix + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := c.client.Get(ctx, c.formatKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return result, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.formatKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
