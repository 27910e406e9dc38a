package events

import (
	"sync"
)

// TipChangeHandler is invoked synchronously, in tip-change order, before the
// event is fanned out to bus subscribers. The mempool registers here so its
// view is never behind a subscriber's.
type TipChangeHandler interface {
	HandleTipChange(ev *TipChanged)
}

// EventRouter sits between the block pipeline and event consumers. All tip
// changes flow through PublishTipChanged from the pipeline's single committer
// goroutine, which is what gives subscribers the in-order delivery guarantee.
type EventRouter struct {
	eventBus    *EventBus
	mu          sync.RWMutex
	tipHandlers []TipChangeHandler
}

// NewEventRouter creates a new EventRouter instance
func NewEventRouter(eventBus *EventBus) *EventRouter {
	return &EventRouter{
		eventBus: eventBus,
	}
}

// RegisterTipChangeHandler adds a synchronous tip-change consumer.
func (er *EventRouter) RegisterTipChangeHandler(h TipChangeHandler) {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.tipHandlers = append(er.tipHandlers, h)
}

// PublishTipChanged delivers a tip change first to synchronous handlers, then
// to all bus subscribers. Must only be called from the pipeline committer.
func (er *EventRouter) PublishTipChanged(ev *TipChanged) {
	er.mu.RLock()
	handlers := make([]TipChangeHandler, len(er.tipHandlers))
	copy(handlers, er.tipHandlers)
	er.mu.RUnlock()

	for _, h := range handlers {
		h.HandleTipChange(ev)
	}
	er.eventBus.Publish(ev)
}

// PublishBlockEvent publishes a block lifecycle event
func (er *EventRouter) PublishBlockEvent(event BlockchainEvent) {
	er.eventBus.Publish(event)
}

// PublishTransactionEvent publishes a transaction-specific event
func (er *EventRouter) PublishTransactionEvent(event BlockchainEvent) {
	er.eventBus.Publish(event)
}

// Subscribe subscribes to the full event stream
func (er *EventRouter) Subscribe() (SubscriberID, chan BlockchainEvent) {
	return er.eventBus.Subscribe()
}

// Unsubscribe removes a subscription
func (er *EventRouter) Unsubscribe(id SubscriberID) bool {
	return er.eventBus.Unsubscribe(id)
}
