package engine

// EventType names an engine event pushed to observers such as the WS hub.
type EventType string

const (
	EventTick           EventType = "tick"
	EventOrderPlaced    EventType = "order_placed"
	EventOrderTriggered EventType = "order_triggered"
	EventOrderCancelled EventType = "order_cancelled"
	EventAlertFired     EventType = "alert_fired"
	EventNotification   EventType = "notification"
)

// Event is one engine effect. Data is the affected domain value.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscribe registers fn for every engine event. fn runs synchronously on the
// goroutine that caused the event, usually with the engine lock held: it must
// not block and must not call back into the engine.
func (e *Engine) Subscribe(fn func(Event)) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) publish(ev Event) {
	e.evMu.RLock()
	defer e.evMu.RUnlock()
	for _, fn := range e.listeners {
		fn(ev)
	}
}
