package core

// ChangeKind names the mutation a Change reports.
type ChangeKind string

// Change kinds
const (
	ChangeCreated   ChangeKind = "created"
	ChangeCancelled ChangeKind = "cancelled"
	ChangeUpdated   ChangeKind = "updated"
	ChangeFulfilled ChangeKind = "fulfilled"
	ChangeReset     ChangeKind = "reset"
)

// Change is delivered to subscribers after every successful mutation.
// Order is nil for ChangeReset.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	Order *Order     `json:"order,omitempty"`
}

// Subscribe registers an observer. Changes arrive in mutation order; when the
// buffer is full further changes are dropped for that subscriber rather than
// blocking writers. The returned func releases the subscription and closes
// the channel; it is safe to call more than once.
func (ob *OrderBook) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	ob.subsMu.Lock()
	id := ob.nextSub
	ob.nextSub++
	ob.subs[id] = ch
	ob.subsMu.Unlock()

	return ch, func() {
		ob.subsMu.Lock()
		defer ob.subsMu.Unlock()
		if c, ok := ob.subs[id]; ok {
			delete(ob.subs, id)
			close(c)
		}
	}
}

// publish is called with ob.mu held so deliveries follow mutation order.
func (ob *OrderBook) publish(change Change) {
	ob.subsMu.Lock()
	defer ob.subsMu.Unlock()

	for _, ch := range ob.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
