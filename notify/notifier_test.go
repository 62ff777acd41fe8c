package notify

import (
	"sync"
	"testing"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	n := New()

	var got1, got2 []int
	n.Subscribe(func(productId int) { got1 = append(got1, productId) })
	n.Subscribe(func(productId int) { got2 = append(got2, productId) })

	n.Publish(1, 2)

	for i, got := range [][]int{got1, got2} {
		if len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Errorf("subscriber %d received %v, want [1 2]", i+1, got)
		}
	}
}

func TestPublishDeduplicatesWithinOneCall(t *testing.T) {
	n := New()

	var got []int
	n.Subscribe(func(productId int) { got = append(got, productId) })

	n.Publish(5, 5, 7, 5)

	if len(got) != 2 || got[0] != 5 || got[1] != 7 {
		t.Fatalf("received %v, want [5 7]", got)
	}

	// A later Publish of the same id is delivered again.
	n.Publish(5)
	if len(got) != 3 || got[2] != 5 {
		t.Fatalf("after second publish received %v, want trailing 5", got)
	}
}

func TestSubscribeIgnoresNil(t *testing.T) {
	n := New()
	n.Subscribe(nil)
	// Must not panic.
	n.Publish(1)
}

func TestPublishConcurrentWithSubscribe(t *testing.T) {
	n := New()
	var mu sync.Mutex
	count := 0
	n.Subscribe(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Publish(1)
			n.Subscribe(func(int) {})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count < 8 {
		t.Fatalf("first subscriber saw %d deliveries, want at least 8", count)
	}
}
