package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

type memoryRepo struct {
	active *DunningSettings
	calls  int
	err    error
}

func (m *memoryRepo) Active(ctx context.Context) (DunningSettings, error) {
	m.calls++
	if m.err != nil {
		return DunningSettings{}, m.err
	}
	if m.active == nil {
		return DunningSettings{}, ErrNoActiveSettings
	}
	return *m.active, nil
}

func (m *memoryRepo) Save(ctx context.Context, s DunningSettings) (DunningSettings, error) {
	s.ID = "settings-1"
	s.Active = true
	m.active = &s
	return s, nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCurrentFallsBackToDefaults(t *testing.T) {
	resolver := NewResolver(&memoryRepo{}, nil, 0, nil)

	s, err := resolver.Current(context.Background())
	require.NoError(t, err)
	require.True(t, s.FeeFor(1).Equal(decimal.RequireFromString("5")))
	require.True(t, s.FeeFor(2).Equal(decimal.RequireFromString("15")))
	require.True(t, s.FeeFor(3).Equal(decimal.RequireFromString("25")))
	for stage := 1; stage <= MaxStage; stage++ {
		require.Equal(t, 7, s.TermFor(stage))
		require.Empty(t, s.TextFor(stage))
	}
	require.True(t, s.InterestRate.IsZero())
}

func TestCurrentPropagatesStoreErrors(t *testing.T) {
	resolver := NewResolver(&memoryRepo{err: errors.New("db down")}, nil, 0, nil)
	_, err := resolver.Current(context.Background())
	require.Error(t, err)
}

func TestTermForZeroUsesDefault(t *testing.T) {
	s := DunningSettings{TermDays: [MaxStage]int{14, 0, 3}}
	require.Equal(t, 14, s.TermFor(1))
	require.Equal(t, DefaultTermDays, s.TermFor(2))
	require.Equal(t, 3, s.TermFor(3))
	require.Equal(t, DefaultTermDays, s.TermFor(4))
}

func TestCurrentIsCachedAndSaveInvalidates(t *testing.T) {
	repo := &memoryRepo{}
	resolver := NewResolver(repo, newRedis(t), time.Minute, nil)
	ctx := context.Background()

	_, err := resolver.Current(ctx)
	require.NoError(t, err)
	_, err = resolver.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	custom := Defaults()
	custom.Fees[0] = decimal.RequireFromString("7.50")
	custom.Texts[1] = "Zweite Mahnung"
	_, err = resolver.Save(ctx, custom)
	require.NoError(t, err)

	s, err := resolver.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
	require.True(t, s.FeeFor(1).Equal(decimal.RequireFromString("7.5")))
	require.Equal(t, "Zweite Mahnung", s.TextFor(2))
}

func TestSaveRejectsNegativeValues(t *testing.T) {
	resolver := NewResolver(&memoryRepo{}, nil, 0, nil)
	s := Defaults()
	s.Fees[2] = decimal.NewFromInt(-1)
	_, err := resolver.Save(context.Background(), s)
	require.ErrorIs(t, err, shared.ErrValidation)

	s = Defaults()
	s.InterestRate = decimal.NewFromInt(101)
	_, err = resolver.Save(context.Background(), s)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCurrentFallsBackWhenCacheIsUnusable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := &memoryRepo{}
	resolver := NewResolver(repo, client, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set(cacheKey, "{not json"))
	s, err := resolver.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.True(t, s.FeeFor(1).Equal(decimal.RequireFromString("5")))

	mr.Close()
	_, err = resolver.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}
