package exchange

import (
	"sync"

	"github.com/ajitpratap0/cryptofunk/internal/orderengine"
)

// tickSubscriberBuffer bounds each subscriber's channel; a slow subscriber
// drops its oldest unread tick rather than blocking the publisher.
const tickSubscriberBuffer = 32

// Tick pairs a Ticker with its accompanying OrderBook snapshot, the unit
// broadcast to every subscriber of a symbol.
type Tick struct {
	Ticker orderengine.Ticker
	Book   orderengine.OrderBook
}

// Broadcaster fans a single upstream stream of Ticker/OrderBook events out
// to every strategy subscribed to a symbol, so N strategies trading the same
// symbol under one credential share one upstream subscription instead of
// opening N (SPEC_FULL.md §4.6). Grounded in internal/market's cache/
// broadcast style, generalized from a single-symbol cache lookup into an
// MPSC fan-out with bounded, drop-oldest subscriber channels.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Tick]struct{} // symbol -> set of subscriber channels
	lastTick    map[string]Tick                   // last-tick cache so new subscribers get an immediate snapshot
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[chan Tick]struct{}),
		lastTick:    make(map[string]Tick),
	}
}

// Subscribe registers a new subscriber channel for symbol. If a tick has
// already been published for that symbol, the subscriber receives it
// immediately. Unsubscribe must be called with the returned channel when the
// caller is done.
func (b *Broadcaster) Subscribe(symbol string) chan Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Tick, tickSubscriberBuffer)
	if b.subscribers[symbol] == nil {
		b.subscribers[symbol] = make(map[chan Tick]struct{})
	}
	b.subscribers[symbol][ch] = struct{}{}

	if last, ok := b.lastTick[symbol]; ok {
		ch <- last
	}

	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(symbol string, ch chan Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[symbol]; ok {
		delete(subs, ch)
	}
	close(ch)
}

// Publish fans tick out to every subscriber of its symbol and updates the
// last-tick cache. A subscriber whose buffer is full has its oldest tick
// dropped to make room, rather than blocking the publisher.
func (b *Broadcaster) Publish(symbol string, tick Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastTick[symbol] = tick

	for ch := range b.subscribers[symbol] {
		select {
		case ch <- tick:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- tick:
			default:
			}
		}
	}
}
