// Package pubsub implements the publish/subscribe bus from §4.7: an
// channel-exact subscriber map and a glob-pattern subscriber map, both
// walked by PUBLISH, with lazily pruned dead subscribers.
package pubsub

import (
	"path"
	"sync"

	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("pubsub")

// Deliverer is how a subscriber receives a published message; the handler
// package's inbound-event channel satisfies this by wrapping chan<- Message.
// Send must not block indefinitely — subscribers with a full buffer are
// treated as dead and pruned, matching the "connection has closed" lazy
// prune described in §4.7 (a stalled slow reader looks the same as a closed
// one from the bus's perspective).
type Deliverer interface {
	Send(msg Message) (ok bool)
}

// Message is one published payload.
type Message struct {
	Channel string
	Pattern string // empty for exact-channel deliveries
	Payload []byte
}

type subscriber struct {
	handlerID int64
	deliver   Deliverer
}

// Bus holds both subscription maps under one RWMutex. A per-channel/
// per-pattern lock would shard contention further, but the bus is
// read-mostly (PUBLISH is the hot path and only takes the read lock while it
// collects subscribers) so a single lock for the whole bus is sufficient.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[int64]subscriber
	patterns map[string]map[int64]subscriber
}

func New() *Bus {
	return &Bus{
		channels: make(map[string]map[int64]subscriber),
		patterns: make(map[string]map[int64]subscriber),
	}
}

// Subscribe registers handlerID on an exact channel.
func (b *Bus) Subscribe(channel string, handlerID int64, d Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[int64]subscriber)
	}
	b.channels[channel][handlerID] = subscriber{handlerID: handlerID, deliver: d}
}

// Unsubscribe removes handlerID from an exact channel.
func (b *Bus) Unsubscribe(channel string, handlerID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.channels[channel]; ok {
		delete(subs, handlerID)
		if len(subs) == 0 {
			delete(b.channels, channel)
		}
	}
}

// PSubscribe registers handlerID on a glob pattern.
func (b *Bus) PSubscribe(pattern string, handlerID int64, d Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.patterns[pattern] == nil {
		b.patterns[pattern] = make(map[int64]subscriber)
	}
	b.patterns[pattern][handlerID] = subscriber{handlerID: handlerID, deliver: d}
}

// PUnsubscribe removes handlerID from a glob pattern.
func (b *Bus) PUnsubscribe(pattern string, handlerID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.patterns[pattern]; ok {
		delete(subs, handlerID)
		if len(subs) == 0 {
			delete(b.patterns, pattern)
		}
	}
}

// UnsubscribeAll tears down every subscription handlerID holds, used on
// connection close.
func (b *Bus) UnsubscribeAll(handlerID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, subs := range b.channels {
		delete(subs, handlerID)
		if len(subs) == 0 {
			delete(b.channels, ch)
		}
	}
	for pat, subs := range b.patterns {
		delete(subs, handlerID)
		if len(subs) == 0 {
			delete(b.patterns, pat)
		}
	}
}

// Publish walks the exact-channel map and every pattern matching channel,
// sending payload to each live subscriber and pruning any whose Send
// reports failure. Returns the number of subscribers the payload was
// delivered to.
func (b *Bus) Publish(channel string, payload []byte) int {
	b.mu.RLock()
	exact := copySubs(b.channels[channel])
	var matched []subscriber
	var matchedPatterns []string
	for pat, subs := range b.patterns {
		if matchGlob(pat, channel) {
			for _, s := range subs {
				matched = append(matched, s)
				matchedPatterns = append(matchedPatterns, pat)
			}
		}
	}
	b.mu.RUnlock()

	delivered := 0
	var deadExact []int64
	for _, s := range exact {
		if s.deliver.Send(Message{Channel: channel, Payload: payload}) {
			delivered++
		} else {
			deadExact = append(deadExact, s.handlerID)
		}
	}
	for i, s := range matched {
		if s.deliver.Send(Message{Channel: channel, Pattern: matchedPatterns[i], Payload: payload}) {
			delivered++
		} else {
			b.PUnsubscribe(matchedPatterns[i], s.handlerID)
		}
	}

	if len(deadExact) > 0 {
		b.mu.Lock()
		if subs, ok := b.channels[channel]; ok {
			for _, id := range deadExact {
				delete(subs, id)
			}
			if len(subs) == 0 {
				delete(b.channels, channel)
			}
		}
		b.mu.Unlock()
		log.Debug("pruned dead exact-channel subscribers on publish")
	}

	return delivered
}

func copySubs(m map[int64]subscriber) []subscriber {
	out := make([]subscriber, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

// matchGlob implements Redis-style glob matching (*, ?, [...]) via the
// standard library's path.Match — no ecosystem glob-pattern library appears
// anywhere in the retrieved corpus, and path.Match's semantics (star,
// question-mark, bracket classes) line up closely enough with Redis pattern
// subscriptions that reimplementing a bespoke matcher isn't warranted.
func matchGlob(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
