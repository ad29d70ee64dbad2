package mocks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/peakml/gradient/pkg/mqtt"
)

// PubSub is an in-process double for the MQTT layer. Published messages are
// recorded and delivered to matching subscribers.
type PubSub struct {
	mu           sync.Mutex
	published    map[string][]any
	handlers     map[string]mqtt.Handler
	publishCalls int
	PublishErr   error
	// PublishErrOn limits PublishErr to the given publish call, counted
	// from one. Zero fails every call.
	PublishErrOn int
	SubscribeErr error
}

var _ mqtt.PubSub = (*PubSub)(nil)

func NewPubSub() *PubSub {
	return &PubSub{
		published: make(map[string][]any),
		handlers:  make(map[string]mqtt.Handler),
	}
}

func (p *PubSub) Publish(_ context.Context, topic string, msg any) error {
	p.mu.Lock()
	p.publishCalls++
	if p.PublishErr != nil && (p.PublishErrOn == 0 || p.publishCalls == p.PublishErrOn) {
		p.mu.Unlock()

		return p.PublishErr
	}
	p.published[topic] = append(p.published[topic], msg)
	handler, ok := p.match(topic)
	p.mu.Unlock()

	if ok {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}

		return handler(topic, decoded)
	}

	return nil
}

// match finds a handler for the topic, honoring a trailing '#' wildcard in
// subscriptions. Callers must hold p.mu.
func (p *PubSub) match(topic string) (mqtt.Handler, bool) {
	if h, ok := p.handlers[topic]; ok {
		return h, true
	}
	for sub, h := range p.handlers {
		if strings.HasSuffix(sub, "#") && strings.HasPrefix(topic, strings.TrimSuffix(sub, "#")) {
			return h, true
		}
	}

	return nil, false
}

func (p *PubSub) Subscribe(_ context.Context, topic string, handler mqtt.Handler) error {
	if p.SubscribeErr != nil {
		return p.SubscribeErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[topic] = handler

	return nil
}

func (p *PubSub) Unsubscribe(_ context.Context, topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, topic)

	return nil
}

func (p *PubSub) Disconnect(context.Context) error {
	return nil
}

// Subscribed reports whether a handler is registered for the exact topic.
func (p *PubSub) Subscribed(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[topic]

	return ok
}

// Published returns the messages recorded for a topic.
func (p *PubSub) Published(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]any(nil), p.published[topic]...)
}

// Topics returns every topic that received at least one publish.
func (p *PubSub) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	topics := make([]string, 0, len(p.published))
	for topic := range p.published {
		topics = append(topics, topic)
	}

	return topics
}
