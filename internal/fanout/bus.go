package fanout

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topic returns the bus topic carrying one session's envelopes.
func Topic(session string) string {
	return "session:" + session
}

// Bus is the in-process real-time sink. Subscribers get envelopes in the
// order they were published for a given session; publishing never blocks
// the event pump on a slow subscriber because handlers run transactionally
// per topic, not per publisher.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

func (b *Bus) Publish(session string, env Envelope) {
	b.bus.Publish(Topic(session), env)
}

// Subscribe attaches a handler to one session's envelope stream.
func (b *Bus) Subscribe(session string, fn func(env Envelope)) error {
	return b.bus.SubscribeAsync(Topic(session), fn, true)
}

// Unsubscribe removes a previously attached handler.
func (b *Bus) Unsubscribe(session string, fn func(env Envelope)) error {
	return b.bus.Unsubscribe(Topic(session), fn)
}
