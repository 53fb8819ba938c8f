package dispatch

import (
	"container/list"
	"time"
)

// senderLRU caps the per-sender bookkeeping so a flood of one-off senders
// cannot grow the debounce map without bound.
type senderLRU struct {
	cap     int
	order   *list.List
	entries map[string]*list.Element
}

type lruEntry struct {
	sender  string
	pending []item
	lastAt  time.Time
}

func newSenderLRU(cap int) *senderLRU {
	return &senderLRU{
		cap:     cap,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// get returns the entry for a sender, creating it when absent; the sender
// becomes most-recently-used either way. At capacity the coldest sender with
// nothing buffered is evicted; when every entry holds buffered work the
// coldest is evicted and returned so the caller can flush its messages
// instead of losing them.
func (l *senderLRU) get(sender string) (entry, evicted *lruEntry) {
	if el, ok := l.entries[sender]; ok {
		l.order.MoveToFront(el)
		return el.Value.(*lruEntry), nil
	}
	if l.order.Len() >= l.cap {
		victim := l.order.Back()
		for el := l.order.Back(); el != nil; el = el.Prev() {
			if len(el.Value.(*lruEntry).pending) == 0 {
				victim = el
				break
			}
		}
		if victim != nil {
			old := victim.Value.(*lruEntry)
			l.order.Remove(victim)
			delete(l.entries, old.sender)
			if len(old.pending) > 0 {
				evicted = old
			}
		}
	}
	entry = &lruEntry{sender: sender}
	l.entries[sender] = l.order.PushFront(entry)
	return entry, evicted
}

func (l *senderLRU) remove(sender string) {
	if el, ok := l.entries[sender]; ok {
		l.order.Remove(el)
		delete(l.entries, sender)
	}
}

func (l *senderLRU) len() int { return l.order.Len() }
