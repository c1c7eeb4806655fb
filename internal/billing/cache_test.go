package billing

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian/internal/admissions"
)

type countingRepo struct {
	*memoryRepo
	listCalls int
}

func (c *countingRepo) ListCharges(ctx context.Context, admissionID int64, filter ChargeFilter) ([]Charge, error) {
	c.listCalls++
	return c.memoryRepo.ListCharges(ctx, admissionID, filter)
}

func TestBalanceCachedUntilChargeWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	repo := &countingRepo{memoryRepo: newMemoryRepo()}
	dir := &memoryDirectory{admissions: map[int64]admissions.Admission{7: activeAdmission(7)}}
	svc := NewService(repo, dir, nil, NewCache(client, time.Minute), dec("45.00"))
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	repo.charges = []Charge{
		{ID: 1, AdmissionID: 7, Type: ChargeTypeLab, Quantity: 1, UnitPrice: dec("30"), TotalAmount: dec("30"),
			ChargeDate: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)},
	}
	repo.nextCharge = 2

	balance, err := svc.Balance(ctx, 7)
	require.NoError(t, err)
	require.True(t, balance.TotalBalance.Equal(dec("30")))
	require.Equal(t, 1, repo.listCalls)

	// Second read is served from Redis.
	balance, err = svc.Balance(ctx, 7)
	require.NoError(t, err)
	require.True(t, balance.TotalBalance.Equal(dec("30")))
	require.Equal(t, 1, repo.listCalls)

	// Any charge write bumps the version and forces a reload.
	_, err = svc.CreateCharge(ctx, CreateChargeInput{
		AdmissionID: 7,
		Type:        ChargeTypeService,
		Description: "Wound care",
		Quantity:    1,
		UnitPrice:   dec("20"),
	})
	require.NoError(t, err)

	balance, err = svc.Balance(ctx, 7)
	require.NoError(t, err)
	require.True(t, balance.TotalBalance.Equal(dec("50")))
	require.Equal(t, 2, repo.listCalls)
}

func TestCacheVersionInitialises(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, cache.Bump(ctx))
	ver, err = cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)

	key, err := cache.BuildKey(ctx, keyBalance(7))
	require.NoError(t, err)
	require.Equal(t, "billing:balance:7:2", key)
}

func TestNilCacheDegradesToLoader(t *testing.T) {
	var cache *Cache
	var out Balance
	err := cache.FetchJSON(context.Background(), "ignored", &out, func(context.Context) (interface{}, error) {
		return buildBalance(7, nil), nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), out.AdmissionID)
}
