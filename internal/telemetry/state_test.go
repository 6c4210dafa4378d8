package telemetry

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateIsEmpty(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.Version)
	for _, f := range AllFields() {
		assert.False(t, snap.Get(f).Valid, f.String())
	}
}

func TestUpdateKeepsUnlistedFields(t *testing.T) {
	s := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Update(t0, Reading{BeanTemp, 150.5}, Reading{Humidity, 40})
	s.Update(t0.Add(time.Second), Reading{Heater, 7})

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, 150.5, snap.Get(BeanTemp).Value)
	assert.True(t, snap.Get(BeanTemp).AsOf.Equal(t0))
	assert.Equal(t, 40.0, snap.Get(Humidity).Value)
	assert.Equal(t, 7.0, snap.Get(Heater).Value)
	assert.False(t, snap.Get(Fan).Valid)
}

func TestFaultRetainsLastGoodValue(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.Update(t0, Reading{CO2, 800})
	s.Fault(CO2)
	s.Fault(CO2)

	v := s.Snapshot().Get(CO2)
	assert.True(t, v.Valid)
	assert.Equal(t, 800.0, v.Value)
	assert.True(t, v.Fault)
	assert.Equal(t, uint64(2), v.Faults)

	s.Update(t0.Add(time.Second), Reading{CO2, 810})
	v = s.Snapshot().Get(CO2)
	assert.False(t, v.Fault, "good reading clears the fault flag")
	assert.Equal(t, uint64(2), v.Faults, "fault counter is cumulative")
}

func TestEmptyUpdateIsNoop(t *testing.T) {
	s := New()
	s.Update(time.Now())
	s.Fault()
	assert.Equal(t, uint64(0), s.Snapshot().Version)
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	s := New()
	s.Update(time.Now(), Reading{BeanTemp, 100})
	snap := s.Snapshot()
	snap.Fields[BeanTemp].Value = 999
	assert.Equal(t, 100.0, s.Snapshot().Get(BeanTemp).Value)
}

func TestSubscribeCoalesces(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		s.Update(time.Now(), Reading{BeanTemp, float64(i)})
	}

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, 4.0, s.Snapshot().Get(BeanTemp).Value)
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	cancel()
	cancel() // idempotent

	s.Update(time.Now(), Reading{Fan, 3})
	select {
	case <-ch:
		t.Fatal("unsubscribed channel should not be signalled")
	default:
	}
}

func TestParseField(t *testing.T) {
	for _, f := range AllFields() {
		got, err := ParseField(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseField("pressure")
	assert.Error(t, err)
	assert.Equal(t, "field(42)", Field(42).String())
}

// TestNoTornReads runs two writers that each write a pair of fields with the
// same value, interleaved randomly, while readers check that no snapshot ever
// mixes the halves of two different updates.
func TestNoTornReads(t *testing.T) {
	s := New()
	const writes = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})

	writer := func(seed int64, a, b Field) {
		defer wg.Done()
		rng := rand.New(rand.NewSource(seed))
		for i := 1; i <= writes; i++ {
			v := float64(i)
			s.Update(time.Now(), Reading{a, v}, Reading{b, v})
			if rng.Intn(4) == 0 {
				time.Sleep(time.Duration(rng.Intn(50)) * time.Microsecond)
			}
		}
	}

	var torn int
	var mu sync.Mutex
	reader := func() {
		defer wg.Done()
		var lastVersion uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Snapshot()
			bad := snap.Get(BeanTemp).Value != snap.Get(ExhaustTemp).Value ||
				snap.Get(Heater).Value != snap.Get(Fan).Value ||
				snap.Version < lastVersion
			if bad {
				mu.Lock()
				torn++
				mu.Unlock()
			}
			lastVersion = snap.Version
		}
	}

	wg.Add(6)
	go writer(1, BeanTemp, ExhaustTemp)
	go writer(2, Heater, Fan)
	for i := 0; i < 4; i++ {
		go reader()
	}

	// Wait for the writers, then stop the readers.
	for s.Snapshot().Version < 2*writes {
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, torn, "observed torn snapshots")
	final := s.Snapshot()
	assert.Equal(t, float64(writes), final.Get(BeanTemp).Value)
	assert.Equal(t, float64(writes), final.Get(Fan).Value)
}
