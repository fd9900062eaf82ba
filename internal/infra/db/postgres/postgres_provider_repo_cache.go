package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/metrics"
	red "gateway-reconciler/internal/infra/redis"
)

var _ repository.PaymentProviderRepository = (*providerRepoCacheDecorator)(nil)

// providerRepoCacheDecorator caches provider lookups on the webhook hot path. Entries carry
// decrypted secrets, so they are sealed with the cipher before reaching Redis.
type providerRepoCacheDecorator struct {
	inner  repository.PaymentProviderRepository
	cache  red.KV
	cipher SecretCipher
	ttl    time.Duration
	log    *zerolog.Logger
}

func NewProviderRepoCacheDecorator(inner repository.PaymentProviderRepository, cache red.KV, cipher SecretCipher, ttl time.Duration, logger *zerolog.Logger) repository.PaymentProviderRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &providerRepoCacheDecorator{inner: inner, cache: cache, cipher: cipher, ttl: ttl, log: logger}
}

func providerIDKey(id string) string { return fmt.Sprintf("provider:id:%s", id) }

func providerCodeKey(orgID, code string, kind model.GatewayKind) string {
	return fmt.Sprintf("provider:code:%s:%s:%s", orgID, kind, code)
}

func (d *providerRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProvider, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := providerIDKey(id)
	if p, ok := d.get(ctx, key); ok {
		return p, nil
	}
	p, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.put(ctx, key, p)
	return p, nil
}

func (d *providerRepoCacheDecorator) FindByCode(ctx context.Context, tx repository.Tx, organizationID, code string, kind model.GatewayKind) (*model.PaymentProvider, error) {
	if tx != nil {
		return d.inner.FindByCode(ctx, tx, organizationID, code, kind)
	}
	key := providerCodeKey(organizationID, code, kind)
	if p, ok := d.get(ctx, key); ok {
		return p, nil
	}
	p, err := d.inner.FindByCode(ctx, tx, organizationID, code, kind)
	if err != nil {
		return nil, err
	}
	d.put(ctx, key, p)
	return p, nil
}

// Save invalidates every key that can resolve to p, including the code-less lookup
// whose answer depends on how many providers of the kind exist.
func (d *providerRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, p *model.PaymentProvider) error {
	if err := d.inner.Save(ctx, tx, p); err != nil {
		return err
	}
	keys := []string{
		providerIDKey(p.ID),
		providerCodeKey(p.OrganizationID, p.Code, p.Gateway),
		providerCodeKey(p.OrganizationID, "", p.Gateway),
	}
	if err := d.cache.Del(ctx, keys...); err != nil {
		d.log.Warn().Err(err).Str("provider_id", p.ID).Msg("provider cache invalidation failed")
	}
	return nil
}

func (d *providerRepoCacheDecorator) get(ctx context.Context, key string) (*model.PaymentProvider, bool) {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.IncCacheRequest("provider", "miss")
			return nil, false
		}
		d.log.Warn().Err(err).Str("key", key).Msg("provider cache read failed")
		metrics.IncCacheRequest("provider", "error")
		return nil, false
	}
	if d.cipher != nil {
		if val, err = d.cipher.Decrypt(val); err != nil {
			// Sealed with a key that is no longer configured; refill from Postgres.
			metrics.IncCacheRequest("provider", "error")
			return nil, false
		}
	}
	var p model.PaymentProvider
	if json.Unmarshal([]byte(val), &p) != nil {
		metrics.IncCacheRequest("provider", "error")
		return nil, false
	}
	metrics.IncCacheRequest("provider", "hit")
	return &p, true
}

func (d *providerRepoCacheDecorator) put(ctx context.Context, key string, p *model.PaymentProvider) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	val := string(b)
	if d.cipher != nil {
		if val, err = d.cipher.Encrypt(val); err != nil {
			return
		}
	}
	if err := d.cache.Set(ctx, key, val, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("provider cache write failed")
	}
}
