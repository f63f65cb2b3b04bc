package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestMPSCBasicOperations tests basic push and consume functionality
func TestMPSCBasicOperations(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&i) {
			t.Fatalf("failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestMPSCConcurrentProducers verifies that no value is lost or duplicated and
// that each producer's values arrive in push order
func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewMPSC[[2]int]()
	defer q.Close()

	const numProducers = 8
	const itemsPerProducer = 500
	total := numProducers * itemsPerProducer

	done := make(chan struct{})
	lastSeen := make([]int, numProducers)
	for i := range lastSeen {
		lastSeen[i] = -1
	}
	received := 0

	go func() {
		defer close(done)
		for received < total {
			select {
			case val := <-q.Recv():
				producer, seq := val[0], val[1]
				if seq != lastSeen[producer]+1 {
					t.Errorf("producer %d: got %d after %d", producer, seq, lastSeen[producer])
				}
				lastSeen[producer] = seq
				received++
			case <-time.After(5 * time.Second):
				t.Errorf("timeout, received %d of %d", received, total)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := [2]int{producer, i}
				if !q.Push(&v) {
					t.Errorf("producer %d failed to push %d", producer, i)
				}
				if i%50 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout waiting for consumer")
	}
	if received != total {
		t.Errorf("expected %d items, got %d", total, received)
	}
}

// TestMPSCClose verifies that Close delivers queued values and then closes Recv
func TestMPSCClose(t *testing.T) {
	q := NewMPSC[int]()
	for i := 0; i < 5; i++ {
		q.Push(&i)
	}
	q.Close()

	if !q.IsClosed() {
		t.Errorf("IsClosed() should be true")
	}
	v := 99
	if q.Push(&v) {
		t.Errorf("push after Close must fail")
	}

	count := 0
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.Recv():
			if !ok {
				if count != 5 {
					t.Errorf("expected 5 values before close, got %d", count)
				}
				return
			}
			count++
		case <-timeout:
			t.Fatalf("Recv was not closed, got %d values", count)
		}
	}
}

// TestMPSCAbort verifies that Abort drops pending values and stops the consumer
func TestMPSCAbort(t *testing.T) {
	q := NewMPSC[int]()
	for i := 0; i < 5; i++ {
		q.Push(&i)
	}

	aborted := make(chan struct{})
	go func() {
		q.Abort()
		close(aborted)
	}()

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatalf("Abort did not return")
	}

	// the channel is closed, at most values handed over before abort remain
	for range q.Recv() {
	}
	if q.Dropped() == 0 {
		t.Errorf("expected dropped values after Abort")
	}
	if q.Push(new(int)) {
		t.Errorf("push after Abort must fail")
	}
}

// TestMPSCNilValue verifies that nil values are rejected
func TestMPSCNilValue(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()
	if q.Push(nil) {
		t.Errorf("nil push must fail")
	}
}

// TestBackoff verifies growth, cap and jitter range
func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	limit := time.Second
	for attempt := 0; attempt < 8; attempt++ {
		want := base << attempt
		if want > limit {
			want = limit
		}
		got := Backoff(attempt, base, limit)
		lo := time.Duration(float64(want) * 0.9)
		hi := time.Duration(float64(want) * 1.1)
		if got < lo || got > hi {
			t.Errorf("attempt %d: %s not within [%s, %s]", attempt, got, lo, hi)
		}
	}
	if GenerateSeed() == GenerateSeed() {
		t.Errorf("two seeds should differ")
	}
}
