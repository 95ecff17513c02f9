package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/canteen-fulfillment/internal/infrastructure/store/mocks"
)

var (
	testBase  = time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	testBuyer = Buyer{ID: "buyer-1", Name: "Dana", Email: "dana@example.com"}
)

func newTestService() (*Service, *mocks.MockEventStore) {
	es := mocks.NewMockEventStore()
	svc := NewService(es)
	svc.now = func() time.Time { return testBase }
	return svc, es
}

func twoStationGroups() map[string][]LineItem {
	return map[string][]LineItem{
		"grill": {
			{ItemID: "burger", Name: "Burger", Quantity: 1, UnitPrice: 650},
			{ItemID: "fries", Name: "Fries", Quantity: 2, UnitPrice: 200},
		},
		"drinks": {
			{ItemID: "cola", Name: "Cola", Quantity: 1, UnitPrice: 180},
		},
	}
}

// ============================================
// Authorize
// ============================================

func TestAuthorize_CreatesActiveOrder(t *testing.T) {
	svc, _ := newTestService()

	o, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	assert.Equal(t, "KD4821", o.Code)
	assert.Equal(t, StatusActive, o.Status)
	assert.Equal(t, []string{"drinks", "grill"}, o.StationsInvolved)
	assert.Equal(t, 1230, o.Total)
	assert.Equal(t, testBase, o.CreatedAt)
	assert.Equal(t, testBase.Add(DefaultTTL), o.ExpiresAt)
	assert.Empty(t, o.Deliveries)
	assert.Nil(t, o.UsedAt)
}

func TestAuthorize_EmptyOrderRejected(t *testing.T) {
	svc, es := newTestService()

	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, nil, "kiosk-3", 0)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = svc.Authorize(context.Background(), "KD4821", testBuyer, map[string][]LineItem{"grill": {}}, "kiosk-3", 0)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	assert.Empty(t, es.AppendCalls)
}

func TestAuthorize_CodeReuseRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	_, err = svc.Authorize(context.Background(), "KD4821", Buyer{ID: "buyer-2", Name: "Eli"}, twoStationGroups(), "kiosk-3", 0)
	assert.ErrorIs(t, err, ErrCodeInUse)
}

// ============================================
// Deliver
// ============================================

func TestDeliver_PartialThenComplete(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	// First station hands over: order stays active, station recorded.
	res, err := svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"grill"}, res.StationsCompleted)
	assert.False(t, res.AllDelivered)
	assert.False(t, res.CompletedNow)
	assert.Equal(t, StatusActive, res.Status)

	// Second station completes the order in the same call.
	res, err = svc.Deliver(context.Background(), "KD4821", "drinks", "staff-2", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"drinks", "grill"}, res.StationsCompleted)
	assert.True(t, res.AllDelivered)
	assert.True(t, res.CompletedNow)
	assert.Equal(t, StatusUsed, res.Status)

	o, err := svc.Get(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, o.Status)
	require.NotNil(t, o.UsedAt)
	assert.Equal(t, testBase, *o.UsedAt)
}

func TestDeliver_RepeatStationIsNoOp(t *testing.T) {
	svc, es := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	require.NoError(t, err)
	appended := len(es.AppendCalls)

	res, err := svc.Deliver(context.Background(), "KD4821", "grill", "staff-9", nil)
	require.NoError(t, err)
	assert.False(t, res.CompletedNow)
	assert.Equal(t, []string{"grill"}, res.StationsCompleted)
	assert.Len(t, es.AppendCalls, appended, "repeat confirmation must not append")
}

func TestDeliver_ItemSubsetCompletesStationIncrementally(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	res, err := svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", []string{"burger"})
	require.NoError(t, err)
	assert.Empty(t, res.StationsCompleted, "grill is not done until fries go out")

	res, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", []string{"fries"})
	require.NoError(t, err)
	assert.Equal(t, []string{"grill"}, res.StationsCompleted)
}

func TestDeliver_ItemNotAtStation(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	_, err = svc.Deliver(context.Background(), "KD4821", "drinks", "staff-2", []string{"burger"})
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestDeliver_StationNotInvolved(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	_, err = svc.Deliver(context.Background(), "KD4821", "salads", "staff-4", nil)
	assert.ErrorIs(t, err, ErrStationNotInvolved)
}

func TestDeliver_UnknownCode(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Deliver(context.Background(), "ZZ0000", "grill", "staff-7", nil)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDeliver_ConsumedCodeRejected(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), "KD4821", "drinks", "staff-2", nil)
	require.NoError(t, err)

	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	assert.ErrorIs(t, err, ErrCodeConsumed)
}

func TestDeliver_OrderIndependentAcrossStations(t *testing.T) {
	groups := map[string][]LineItem{
		"grill":  {{ItemID: "burger", Name: "Burger", Quantity: 1, UnitPrice: 650}},
		"drinks": {{ItemID: "cola", Name: "Cola", Quantity: 1, UnitPrice: 180}},
		"salads": {{ItemID: "caesar", Name: "Caesar", Quantity: 1, UnitPrice: 420}},
	}
	permutations := [][]string{
		{"grill", "drinks", "salads"},
		{"grill", "salads", "drinks"},
		{"drinks", "grill", "salads"},
		{"drinks", "salads", "grill"},
		{"salads", "grill", "drinks"},
		{"salads", "drinks", "grill"},
	}

	for i, perm := range permutations {
		svc, _ := newTestService()
		code := fmt.Sprintf("PM%04d", i)
		_, err := svc.Authorize(context.Background(), code, testBuyer, groups, "kiosk-3", 0)
		require.NoError(t, err)

		for _, station := range perm {
			_, err := svc.Deliver(context.Background(), code, station, "staff-7", nil)
			require.NoError(t, err)
		}

		o, err := svc.Get(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, StatusUsed, o.Status, "permutation %v", perm)
		assert.Equal(t, []string{"drinks", "grill", "salads"}, o.StationsCompleted())
	}
}

func TestDeliver_CompletionOverSmallOrderShapes(t *testing.T) {
	for stations := 2; stations <= 3; stations++ {
		for items := 1; items <= 3; items++ {
			groups := make(map[string][]LineItem)
			for s := 0; s < stations; s++ {
				station := fmt.Sprintf("station-%d", s)
				for i := 0; i < items; i++ {
					groups[station] = append(groups[station], LineItem{
						ItemID:    fmt.Sprintf("item-%d-%d", s, i),
						Quantity:  1,
						UnitPrice: 100,
					})
				}
			}

			svc, _ := newTestService()
			code := fmt.Sprintf("EN%d%d00", stations, items)
			_, err := svc.Authorize(context.Background(), code, testBuyer, groups, "kiosk-3", 0)
			require.NoError(t, err)

			for s := 0; s < stations; s++ {
				o, err := svc.Get(context.Background(), code)
				require.NoError(t, err)
				assert.Equal(t, StatusActive, o.Status, "%d stations not yet done", stations)
				assert.Subset(t, o.StationsInvolved, o.StationsCompleted())

				_, err = svc.Deliver(context.Background(), code, fmt.Sprintf("station-%d", s), "staff-7", nil)
				require.NoError(t, err)
			}

			o, err := svc.Get(context.Background(), code)
			require.NoError(t, err)
			assert.Equal(t, StatusUsed, o.Status, "%d stations x %d items", stations, items)
			assert.ElementsMatch(t, o.StationsInvolved, o.StationsCompleted())
		}
	}
}

func TestDeliver_ConcurrentStationsConsumeOnce(t *testing.T) {
	svc, es := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, station := range []string{"grill", "drinks"} {
		wg.Add(1)
		go func(station string) {
			defer wg.Done()
			_, err := svc.Deliver(context.Background(), "KD4821", station, "staff-7", nil)
			assert.NoError(t, err)
		}(station)
	}
	wg.Wait()

	consumed := 0
	for _, call := range es.AppendCalls {
		if call.EventType == EventOrderConsumed {
			consumed++
		}
	}
	assert.Equal(t, 1, consumed, "exactly one consumption event")

	o, err := svc.Get(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, o.Status)
}

// ============================================
// Expiry
// ============================================

func TestExpiry_OverdueCodeRejectedAtDelivery(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	// 25 hours later the 24h code is dead.
	svc.now = func() time.Time { return testBase.Add(25 * time.Hour) }

	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestExpiry_ReadsAsExpiredWithoutWrite(t *testing.T) {
	svc, es := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	appended := len(es.AppendCalls)

	svc.now = func() time.Time { return testBase.Add(25 * time.Hour) }

	o, err := svc.Get(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, o.Status)
	assert.Len(t, es.AppendCalls, appended, "reading an overdue order must not write")
}

func TestExpire_DurableAndIdempotent(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	// Not overdue yet: nothing to do.
	expired, err := svc.Expire(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.False(t, expired)

	svc.now = func() time.Time { return testBase.Add(25 * time.Hour) }

	expired, err = svc.Expire(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = svc.Expire(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.False(t, expired, "already expired")
}

// ============================================
// Cancel
// ============================================

func TestCancel_ActiveOrder(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)

	o, err := svc.Cancel(context.Background(), "KD4821", "buyer-1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)

	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	assert.ErrorIs(t, err, ErrOrderCancelled)
}

func TestCancel_TerminalOrderRejected(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), "KD4821", "buyer-1", "")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), "KD4821", "buyer-1", "")
	assert.ErrorIs(t, err, ErrOrderCancelled)
}

// ============================================
// Status and replay
// ============================================

func TestStatus_TracksCompletion(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), "KD4821", "drinks", "staff-2", nil)
	require.NoError(t, err)

	info, err := svc.Status(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, info.Status)
	assert.Equal(t, []string{"drinks", "grill"}, info.StationsInvolved)
	assert.Equal(t, []string{"drinks"}, info.StationsCompleted)
	assert.False(t, info.AllDelivered)
}

func TestReplay_RebuildsStateFromEvents(t *testing.T) {
	svc, es := newTestService()
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	require.NoError(t, err)
	_, err = svc.Deliver(context.Background(), "KD4821", "drinks", "staff-2", nil)
	require.NoError(t, err)

	// A fresh service over the same store must see the identical order.
	rebuilt := NewService(es)
	rebuilt.now = func() time.Time { return testBase }
	o, err := rebuilt.Get(context.Background(), "KD4821")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, o.Status)
	assert.True(t, o.AllDelivered())
	assert.Equal(t, []string{"drinks", "grill"}, o.StationsCompleted())
}

// ============================================
// Lock bookkeeping
// ============================================

func TestService_ForgetsLocksForTerminalCodes(t *testing.T) {
	svc, _ := newTestService()
	held := func(code string) bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		_, ok := svc.locks[code]
		return ok
	}

	// Completion drops the lock entry.
	_, err := svc.Authorize(context.Background(), "KD4821", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	assert.True(t, held("KD4821"))
	_, err = svc.Deliver(context.Background(), "KD4821", "grill", "staff-7", nil)
	require.NoError(t, err)
	assert.True(t, held("KD4821"), "order still active")
	_, err = svc.Deliver(context.Background(), "KD4821", "drinks", "staff-2", nil)
	require.NoError(t, err)
	assert.False(t, held("KD4821"))

	// So does cancellation.
	_, err = svc.Authorize(context.Background(), "MN3344", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), "MN3344", "buyer-1", "")
	require.NoError(t, err)
	assert.False(t, held("MN3344"))

	// And durable expiry.
	_, err = svc.Authorize(context.Background(), "PQ1234", testBuyer, twoStationGroups(), "kiosk-3", 0)
	require.NoError(t, err)
	svc.now = func() time.Time { return testBase.Add(25 * time.Hour) }
	expired, err := svc.Expire(context.Background(), "PQ1234")
	require.NoError(t, err)
	require.True(t, expired)
	assert.False(t, held("PQ1234"))
}
