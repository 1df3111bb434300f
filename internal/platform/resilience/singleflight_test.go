package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleFlight_CollapsesConcurrentLoads(t *testing.T) {
	var g SingleFlight
	var loads atomic.Int32
	var shared atomic.Int32

	const callers = 24
	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(callers)

	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-gate
			val, err, wasShared := g.Do("match:season-ids:25583", func() (any, error) {
				loads.Add(1)
				time.Sleep(15 * time.Millisecond)
				return []int64{101, 102}, nil
			})
			if err != nil {
				t.Errorf("singleflight load failed: %v", err)
				return
			}
			if ids, ok := val.([]int64); !ok || len(ids) != 2 {
				t.Errorf("unexpected shared value: %v", val)
			}
			if wasShared {
				shared.Add(1)
			}
		}()
	}

	close(gate)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("unexpected load count: got=%d want=1", got)
	}
	if got := shared.Load(); got != callers-1 {
		t.Fatalf("unexpected shared count: got=%d want=%d", got, callers-1)
	}
}

func TestSingleFlight_DistinctKeysRunIndependently(t *testing.T) {
	var g SingleFlight

	val, err, wasShared := g.Do("team:id:10", func() (any, error) { return "Arsenal", nil })
	if err != nil || wasShared || val != "Arsenal" {
		t.Fatalf("unexpected result: val=%v err=%v shared=%t", val, err, wasShared)
	}

	val, err, wasShared = g.Do("team:id:11", func() (any, error) { return "Chelsea", nil })
	if err != nil || wasShared || val != "Chelsea" {
		t.Fatalf("unexpected result: val=%v err=%v shared=%t", val, err, wasShared)
	}
}
