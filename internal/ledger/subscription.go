package ledger

import (
	"sync"

	"github.com/carebook/clinic-ledger/pkg/monitoring"
)

// ChangeFunc receives the current value at the subscribed path after each
// overlapping write (ok=false when the path is absent). Every invocation
// carries the full current state, never a delta: writes that land while a
// previous invocation is still running are coalesced to the latest value.
type ChangeFunc func(value interface{}, ok bool)

// Subscription is a live listener on a ledger path. Release stops delivery;
// it is safe to call more than once.
type Subscription struct {
	id    uint64
	store *Store
	path  []string
	fn    ChangeFunc

	mu     sync.Mutex
	latest interface{}
	ok     bool
	dirty  bool

	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

// Subscribe registers fn on path. The callback fires once immediately with
// the current state and again after every subsequent write under (or above)
// path. Delivery is asynchronous and last-write-wins per notification cycle.
func (s *Store) Subscribe(path string, fn ChangeFunc) (*Subscription, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		store: s,
		path:  segments,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}

	s.subMu.Lock()
	s.nextSub++
	sub.id = s.nextSub
	s.subs[sub.id] = sub
	s.subMu.Unlock()
	monitoring.SubscriptionOpened()

	go sub.deliverLoop()

	// initial delivery with current state
	s.mu.RLock()
	value, ok := s.valueAt(segments)
	if ok {
		value = deepCopy(value)
	}
	s.mu.RUnlock()
	sub.offer(value, ok)

	return sub, nil
}

// Release stops delivery and forgets the subscription
func (sub *Subscription) Release() {
	sub.once.Do(func() {
		close(sub.quit)
		sub.store.subMu.Lock()
		delete(sub.store.subs, sub.id)
		sub.store.subMu.Unlock()
		monitoring.SubscriptionReleased()
	})
}

// offer stages the newest value and wakes the delivery goroutine. A full
// wake channel means a delivery is already pending; the staged value simply
// replaces the previous one.
func (sub *Subscription) offer(value interface{}, ok bool) {
	sub.mu.Lock()
	sub.latest = value
	sub.ok = ok
	sub.dirty = true
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscription) deliverLoop() {
	for {
		select {
		case <-sub.quit:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if !sub.dirty {
				sub.mu.Unlock()
				break
			}
			value, ok := sub.latest, sub.ok
			sub.dirty = false
			sub.mu.Unlock()

			select {
			case <-sub.quit:
				return
			default:
			}
			sub.fn(value, ok)
		}
	}
}

// overlaps reports whether a write at writePath affects a subscriber at
// subPath: either path being a prefix of the other changes the value seen
// at the subscriber's root.
func overlaps(subPath, writePath []string) bool {
	n := len(subPath)
	if len(writePath) < n {
		n = len(writePath)
	}
	for i := 0; i < n; i++ {
		if subPath[i] != writePath[i] {
			return false
		}
	}
	return true
}

// notify fans a committed write out to every overlapping subscriber. Each
// subscriber gets a fresh snapshot of the value at its own path.
func (s *Store) notify(writePath []string) {
	s.subMu.Lock()
	targets := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if overlaps(sub.path, writePath) {
			targets = append(targets, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range targets {
		s.mu.RLock()
		value, ok := s.valueAt(sub.path)
		if ok {
			value = deepCopy(value)
		}
		s.mu.RUnlock()
		sub.offer(value, ok)
	}
}
