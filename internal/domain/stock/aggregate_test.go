package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/canteen-fulfillment/internal/infrastructure/store"
	"github.com/example/canteen-fulfillment/internal/infrastructure/store/mocks"
)

// ============================================
// Single-item operations
// ============================================

func TestAddStock_IncreasesTotal(t *testing.T) {
	es := mocks.NewMockEventStore()
	svc := NewService(es)

	require.NoError(t, svc.AddStock(context.Background(), "burger", 20))
	require.NoError(t, svc.AddStock(context.Background(), "burger", 5))

	ledger, err := svc.Get(context.Background(), "burger")
	require.NoError(t, err)
	assert.Equal(t, 25, ledger.TotalStock)
	assert.Equal(t, 25, ledger.AvailableStock())
}

func TestAddStock_RejectsNonPositive(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())

	assert.ErrorIs(t, svc.AddStock(context.Background(), "burger", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, svc.AddStock(context.Background(), "burger", -3), ErrInvalidQuantity)
}

func TestReserve_MovesAvailableToReserved(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 10))

	require.NoError(t, svc.Reserve(context.Background(), "burger", "KD4821", 4))

	ledger, err := svc.Get(context.Background(), "burger")
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.TotalStock)
	assert.Equal(t, 4, ledger.ReservedStock)
	assert.Equal(t, 6, ledger.AvailableStock())
}

func TestReserve_InsufficientStock(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 3))

	err := svc.Reserve(context.Background(), "burger", "KD4821", 4)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	ledger, err := svc.Get(context.Background(), "burger")
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.ReservedStock)
}

func TestRelease_RestoresAvailability(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 10))
	require.NoError(t, svc.Reserve(context.Background(), "burger", "KD4821", 4))

	require.NoError(t, svc.Release(context.Background(), "burger", "KD4821", 4))

	ledger, err := svc.Get(context.Background(), "burger")
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.AvailableStock())
}

func TestDeduct_FinalizesWithoutChangingAvailability(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 10))
	require.NoError(t, svc.Reserve(context.Background(), "burger", "KD4821", 4))
	before, err := svc.Get(context.Background(), "burger")
	require.NoError(t, err)

	require.NoError(t, svc.Deduct(context.Background(), "burger", "KD4821", 4))

	after, err := svc.Get(context.Background(), "burger")
	require.NoError(t, err)
	assert.Equal(t, 6, after.TotalStock)
	assert.Equal(t, 0, after.ReservedStock)
	assert.Equal(t, before.AvailableStock(), after.AvailableStock())
}

// ============================================
// All-or-nothing reservation
// ============================================

func TestReserveAll_AllLinesReserved(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 10))
	require.NoError(t, svc.AddStock(context.Background(), "cola", 10))

	err := svc.ReserveAll(context.Background(), "KD4821", []Reservation{
		{ItemID: "burger", Quantity: 2},
		{ItemID: "cola", Quantity: 3},
	})
	require.NoError(t, err)

	burger, _ := svc.Get(context.Background(), "burger")
	cola, _ := svc.Get(context.Background(), "cola")
	assert.Equal(t, 2, burger.ReservedStock)
	assert.Equal(t, 3, cola.ReservedStock)
}

func TestReserveAll_OneShortLineReservesNothing(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 10))
	require.NoError(t, svc.AddStock(context.Background(), "cola", 1))

	err := svc.ReserveAll(context.Background(), "KD4821", []Reservation{
		{ItemID: "burger", Quantity: 2},
		{ItemID: "cola", Quantity: 3},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	burger, _ := svc.Get(context.Background(), "burger")
	cola, _ := svc.Get(context.Background(), "cola")
	assert.Equal(t, 0, burger.ReservedStock, "no partial reservation may survive")
	assert.Equal(t, 0, cola.ReservedStock)
}

func TestReserveAll_SumsRepeatedItems(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	require.NoError(t, svc.AddStock(context.Background(), "burger", 3))

	err := svc.ReserveAll(context.Background(), "KD4821", []Reservation{
		{ItemID: "burger", Quantity: 2},
		{ItemID: "burger", Quantity: 2},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReserveAll_AppendFailureRollsBackPrefix(t *testing.T) {
	es := mocks.NewMockEventStore()
	svc := NewService(es)
	require.NoError(t, svc.AddStock(context.Background(), "burger", 10))
	require.NoError(t, svc.AddStock(context.Background(), "cola", 10))

	// Fail the cola reservation append; everything else passes through.
	boom := errors.New("append failed")
	es.AppendCallback = func(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*store.Event, error) {
		if eventType == EventStockReserved && aggregateID == "cola" {
			return nil, boom
		}
		return nil, nil
	}

	err := svc.ReserveAll(context.Background(), "KD4821", []Reservation{
		{ItemID: "burger", Quantity: 2},
		{ItemID: "cola", Quantity: 3},
	})
	assert.ErrorIs(t, err, boom)

	// The burger reservation that went through before the failure must have
	// been compensated with a release.
	var released bool
	for _, call := range es.AppendCalls {
		if call.EventType == EventStockReleased && call.AggregateID == "burger" {
			released = true
		}
	}
	assert.True(t, released, "reserved prefix must be released after a failed line")
}

// ============================================
// Concurrent reservations
// ============================================

func TestReserve_ConcurrentReservationsNeverOverReserve(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	ctx := context.Background()
	require.NoError(t, svc.AddStock(ctx, "burger", 5))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := svc.Reserve(ctx, "burger", fmt.Sprintf("CC%04d", i), 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, successes, "exactly the available quantity reserves")

	ledger, err := svc.Get(ctx, "burger")
	require.NoError(t, err)
	assert.Equal(t, 5, ledger.ReservedStock)
	assert.Equal(t, 0, ledger.AvailableStock())
}

func TestReserveAll_ConcurrentOrdersNeverOverReserve(t *testing.T) {
	svc := NewService(mocks.NewMockEventStore())
	ctx := context.Background()
	require.NoError(t, svc.AddStock(ctx, "burger", 5))
	require.NoError(t, svc.AddStock(ctx, "cola", 5))

	reqs := []Reservation{
		{ItemID: "burger", Quantity: 2},
		{ItemID: "cola", Quantity: 2},
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := svc.ReserveAll(ctx, fmt.Sprintf("CC%04d", i), reqs)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, successes, "two orders of two fit into five")

	for _, itemID := range []string{"burger", "cola"} {
		ledger, err := svc.Get(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, 4, ledger.ReservedStock, itemID)
		assert.Equal(t, 1, ledger.AvailableStock(), itemID)
	}
}
