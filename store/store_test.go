package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"flapgate/economy"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReserveClaimIsOneShot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.ReserveClaim(ctx, "0xAbC0000000000000000000000000000000000001")
	require.NoError(t, err)
	require.True(t, ok)

	// Same actor, different casing: still claimed.
	ok, err = s.ReserveClaim(ctx, "0xabc0000000000000000000000000000000000001")
	require.NoError(t, err)
	require.False(t, ok)

	claimed, err := s.HasClaimed(ctx, "0xABC0000000000000000000000000000000000001")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestReserveClaimConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	wins := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.ReserveClaim(ctx, "0xdead000000000000000000000000000000000001")
			require.NoError(t, err)
			wins[i] = ok
		}(i)
	}
	wg.Wait()

	total := 0
	for _, w := range wins {
		if w {
			total++
		}
	}
	require.Equal(t, 1, total)
}

func TestReleaseClaimReopensReservation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	actor := "0xdead000000000000000000000000000000000002"

	ok, err := s.ReserveClaim(ctx, actor)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseClaim(ctx, actor))

	ok, err = s.ReserveClaim(ctx, actor)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClaimSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	ok, err := s.ReserveClaim(ctx, "0xdead000000000000000000000000000000000003")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	ok, err = s.ReserveClaim(ctx, "0xdead000000000000000000000000000000000003")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSagaAuditRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	actor := "0xdead000000000000000000000000000000000004"

	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i, outcome := range []string{"ok", "INSUFFICIENT_FUNDS", "ok"} {
		require.NoError(t, s.RecordSaga(ctx, economy.SagaRecord{
			ID:      uuid.NewString(),
			Actor:   actor,
			Saga:    "gacha",
			Outcome: outcome,
			TxRef:   "0xtx",
			At:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := s.RecentSagas(ctx, actor, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "ok", recs[0].Outcome)
	require.Equal(t, "INSUFFICIENT_FUNDS", recs[1].Outcome)
}

func TestListerRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Lister(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.RecordLister(ctx, 7, "0xAbC0000000000000000000000000000000000001"))
	seller, ok, err := s.Lister(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xabc0000000000000000000000000000000000001", seller)

	// Relisting overwrites the previous seller.
	require.NoError(t, s.RecordLister(ctx, 7, "0xdef0000000000000000000000000000000000002"))
	seller, ok, err = s.Lister(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xdef0000000000000000000000000000000000002", seller)

	require.NoError(t, s.ClearLister(ctx, 7))
	_, ok, err = s.Lister(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListerRecordSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordLister(ctx, 42, "0xabc0000000000000000000000000000000000001"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	seller, ok, err := s.Lister(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xabc0000000000000000000000000000000000001", seller)
}
