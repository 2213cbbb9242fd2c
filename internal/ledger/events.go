package ledger

// EventType classifies a ledger state change.
type EventType string

const (
	EventCreated   EventType = "created"
	EventSpent     EventType = "spent"
	EventConfirmed EventType = "confirmed"
)

// Event is one ledger state change. Record is a copy.
type Event struct {
	Type   EventType
	Record *PrivateUTXO
}

// Subscribe registers a buffered event channel. The returned cancel
// function closes and removes the subscription. Events are dropped, not
// blocked on, when a subscriber falls behind.
func (l *Ledger) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if existing, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(existing)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// emit fans an event out to all subscribers without blocking.
func (l *Ledger) emit(ev Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			l.log.Warn().Str("type", string(ev.Type)).Msg("dropping ledger event, subscriber behind")
		}
	}
}
