// Package notify carries post-commit stock change announcements from the
// posting engine to interested views. It lives in a leaf package so both
// main and models can depend on it without a cycle.
package notify

import "sync"

// Subscriber receives the id of a product whose cached stock changed.
// Delivery is at-least-once per committed posting; there is no ordering
// guarantee across distinct products. Subscribers must not block.
type Subscriber func(productId int)

// Notifier fans product-change events out to subscribers. The zero value is
// not usable; construct with New at the composition root and pass by
// reference to posting calls.
type Notifier struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func New() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Publish announces changed product ids. Call only after a successful
// commit; duplicate ids are delivered once per Publish call.
func (n *Notifier) Publish(productIds ...int) {
	if n == nil {
		return
	}
	n.mu.RLock()
	subs := make([]Subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	seen := make(map[int]struct{}, len(productIds))
	for _, id := range productIds {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, fn := range subs {
			fn(id)
		}
	}
}
