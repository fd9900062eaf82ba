//go:build !integration

package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
	red "gateway-reconciler/internal/infra/redis"
)

// providerRepoStub is the database repository the cache decorator wraps.
type providerRepoStub struct {
	FindByIDFunc   func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProvider, error)
	FindByCodeFunc func(ctx context.Context, tx repository.Tx, organizationID, code string, kind model.GatewayKind) (*model.PaymentProvider, error)
	SaveFunc       func(ctx context.Context, tx repository.Tx, p *model.PaymentProvider) error
}

var _ repository.PaymentProviderRepository = (*providerRepoStub)(nil)

func (m *providerRepoStub) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProvider, error) {
	return m.FindByIDFunc(ctx, tx, id)
}

func (m *providerRepoStub) FindByCode(ctx context.Context, tx repository.Tx, organizationID, code string, kind model.GatewayKind) (*model.PaymentProvider, error) {
	return m.FindByCodeFunc(ctx, tx, organizationID, code, kind)
}

func (m *providerRepoStub) Save(ctx context.Context, tx repository.Tx, p *model.PaymentProvider) error {
	return m.SaveFunc(ctx, tx, p)
}

// mockKV stands in for Redis. Unset funcs behave like an empty cache that accepts writes.
type mockKV struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.KV = (*mockKV)(nil)

func (m *mockKV) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", redis.Nil
	}
	return m.GetFunc(ctx, key)
}

func (m *mockKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}

func (m *mockKV) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}

// reverseCipher seals by reversing, so tests can tell sealed from plain text.
type reverseCipher struct{}

func (reverseCipher) Encrypt(s string) (string, error) { return "enc:" + reverse(s), nil }
func (reverseCipher) Decrypt(s string) (string, error) { return reverse(strings.TrimPrefix(s, "enc:")), nil }

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
