package ledger

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/clinic-ledger/pkg/logger"
	"github.com/carebook/clinic-ledger/pkg/types"
)

func newTestStore() *Store {
	return NewStore(logger.New("error"))
}

func TestPutGet_RoundTrip(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	apt := &types.Appointment{
		DoctorID:    "dra@clinic",
		PatientID:   "p1",
		PatientName: "Jane Doe",
		Date:        "8/30/2026",
		Time:        "10:00 AM",
		Status:      types.StatusPending,
	}

	_, err := store.Put(ctx, "appointments/dra@clinic/p1", apt)
	require.NoError(t, err)

	var got types.Appointment
	require.NoError(t, store.GetInto(ctx, "appointments/dra@clinic/p1", &got))
	assert.Equal(t, *apt, got)
}

func TestGet_Absent(t *testing.T) {
	store := newTestStore()

	_, ok, err := store.Get(context.Background(), "appointments/nobody/p1")
	require.NoError(t, err)
	assert.False(t, ok)

	var apt types.Appointment
	err = store.GetInto(context.Background(), "appointments/nobody/p1", &apt)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestPut_InvalidPath(t *testing.T) {
	store := newTestStore()

	_, err := store.Put(context.Background(), "", "x")
	require.Error(t, err)

	_, err = store.Put(context.Background(), "appointments//p1", "x")
	require.Error(t, err)
}

func TestGetInto_SchemaError(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	// a record holding an undefined status must not decode
	_, err := store.Put(ctx, "appointments/dra@clinic/p1", map[string]interface{}{
		"PatientID": "p1",
		"Status":    "Rescheduled",
	})
	require.NoError(t, err)

	var apt types.Appointment
	err = store.GetInto(ctx, "appointments/dra@clinic/p1", &apt)
	require.Error(t, err)
	assert.True(t, types.IsSchema(err))
}

func TestPut_DeepCopyIsolation(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	value := map[string]interface{}{"Name": "Dr. A", "Spl": "Cardiology"}
	_, err := store.Put(ctx, "doctors/dra@clinic", value)
	require.NoError(t, err)

	// mutating the caller's map must not reach the tree
	value["Name"] = "mutated"

	got, ok, err := store.Get(ctx, "doctors/dra@clinic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Dr. A", got.(map[string]interface{})["Name"])

	// mutating a read result must not reach the tree either
	got.(map[string]interface{})["Name"] = "mutated again"
	got2, _, err := store.Get(ctx, "doctors/dra@clinic")
	require.NoError(t, err)
	assert.Equal(t, "Dr. A", got2.(map[string]interface{})["Name"])
}

func TestChildren_SortedAndEmpty(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	for _, key := range []string{"p3", "p1", "p2"} {
		_, err := store.Put(ctx, "appointments/dra@clinic/"+key, map[string]interface{}{"PatientID": key})
		require.NoError(t, err)
	}

	keys, err := store.Children(ctx, "appointments/dra@clinic")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, keys)

	keys, err = store.Children(ctx, "appointments/unknown")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPush_ConcurrentMintsAreUnique(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	const n = 1000
	keys := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			key, err := store.Push(ctx, "prescriptions/dra@clinic/p1")
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, key := range keys {
		assert.False(t, seen[key], "duplicate push key %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, n)
}

func TestPush_KeysSortByMintOrder(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	minted := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		key, err := store.Push(ctx, "prescriptions/dra@clinic/p1")
		require.NoError(t, err)
		minted = append(minted, key)
	}

	sorted := append([]string(nil), minted...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, minted, "push keys must sort by mint order")
}

func TestSubscribe_InitialAndUpdate(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	deliveries := make(chan interface{}, 16)
	sub, err := store.Subscribe("appointments/dra@clinic", func(value interface{}, ok bool) {
		deliveries <- value
	})
	require.NoError(t, err)
	defer sub.Release()

	// initial delivery fires with current (absent) state
	select {
	case value := <-deliveries:
		assert.Nil(t, value)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial delivery")
	}

	_, err = store.Put(ctx, "appointments/dra@clinic/p1", map[string]interface{}{"Status": "Pending"})
	require.NoError(t, err)

	select {
	case value := <-deliveries:
		node := value.(map[string]interface{})
		assert.Contains(t, node, "p1")
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after write")
	}
}

func TestSubscribe_AncestorWriteNotifies(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	deliveries := make(chan interface{}, 16)
	sub, err := store.Subscribe("appointments/dra@clinic/p1", func(value interface{}, ok bool) {
		deliveries <- value
	})
	require.NoError(t, err)
	defer sub.Release()
	<-deliveries // initial

	// replacing the doctor's whole partition overwrites the subscribed child
	_, err = store.Put(ctx, "appointments/dra@clinic", map[string]interface{}{
		"p1": map[string]interface{}{"Status": "Confirmed"},
	})
	require.NoError(t, err)

	select {
	case value := <-deliveries:
		assert.Equal(t, "Confirmed", value.(map[string]interface{})["Status"])
	case <-time.After(2 * time.Second):
		t.Fatal("ancestor write did not notify child subscriber")
	}
}

func TestSubscribe_CoalescesRapidWrites(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	var mu sync.Mutex
	var callbacks int
	var last interface{}
	block := make(chan struct{})
	first := make(chan struct{})
	var firstOnce sync.Once

	sub, err := store.Subscribe("counters/c", func(value interface{}, ok bool) {
		firstOnce.Do(func() { close(first) })
		<-block // hold the callback so later writes pile up
		mu.Lock()
		callbacks++
		last = value
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Release()

	<-first // initial delivery is now in flight and blocked

	const writes = 25
	for i := 1; i <= writes; i++ {
		_, err := store.Put(ctx, "counters/c", i)
		require.NoError(t, err)
	}
	close(block)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == float64(writes)
	}, 2*time.Second, 10*time.Millisecond, "final delivery must carry the last value")

	mu.Lock()
	delivered := callbacks
	mu.Unlock()
	// the blocked window coalesces all interim writes to one delivery
	assert.LessOrEqual(t, delivered, writes)
	assert.GreaterOrEqual(t, delivered, 1)
}

func TestSubscription_ReleaseStopsDelivery(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	deliveries := make(chan interface{}, 16)
	sub, err := store.Subscribe("doctors", func(value interface{}, ok bool) {
		deliveries <- value
	})
	require.NoError(t, err)
	<-deliveries // initial

	sub.Release()
	sub.Release() // idempotent

	_, err = store.Put(ctx, "doctors/dra@clinic", map[string]interface{}{"Name": "Dr. A"})
	require.NoError(t, err)

	select {
	case <-deliveries:
		t.Fatal("released subscription still receiving")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCompareAndPut_PreconditionRejects(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "appointments/dra@clinic/p1", map[string]interface{}{"Status": "Confirmed"})
	require.NoError(t, err)

	_, err = store.CompareAndPut(ctx, "appointments/dra@clinic/p1",
		func(current interface{}, ok bool) error {
			if current.(map[string]interface{})["Status"] != "Pending" {
				return types.NewConflictError("status changed under us")
			}
			return nil
		},
		map[string]interface{}{"Status": "Cancelled"},
	)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	// state unchanged after rejection
	got, _, err := store.Get(ctx, "appointments/dra@clinic/p1")
	require.NoError(t, err)
	assert.Equal(t, "Confirmed", got.(map[string]interface{})["Status"])
}

func TestCompareAndPut_ConcurrentWritersOneWins(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "slots/s1", map[string]interface{}{"Status": "Pending"})
	require.NoError(t, err)

	pendingOnly := func(current interface{}, ok bool) error {
		if !ok {
			return types.NewNotFoundError("slot gone")
		}
		if current.(map[string]interface{})["Status"] != "Pending" {
			return types.NewConflictError("slot already taken")
		}
		return nil
	}

	const writers = 32
	var wg sync.WaitGroup
	errs := make([]error, writers)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CompareAndPut(ctx, "slots/s1", pendingOnly,
				map[string]interface{}{"Status": "Confirmed"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, types.IsConflict(err))
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent conditional write must win")
}

func TestSnapshot_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	_, err := store.Put(ctx, "doctors/dra@clinic", map[string]interface{}{"Name": "Dr. A", "Spl": "Cardiology"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "appointments/dra@clinic/p1", map[string]interface{}{"Status": "Pending", "PatientID": "p1"})
	require.NoError(t, err)

	require.NoError(t, store.SaveSnapshot(path))

	restored := newTestStore()
	require.NoError(t, restored.LoadSnapshot(path))

	got, ok, err := restored.Get(ctx, "appointments/dra@clinic/p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Pending", got.(map[string]interface{})["Status"])
}

func TestLoadSnapshot_MissingFileStartsEmpty(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json")))

	_, ok, err := store.Get(context.Background(), "doctors/anyone")
	require.NoError(t, err)
	assert.False(t, ok)
}
