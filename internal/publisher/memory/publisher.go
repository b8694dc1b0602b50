// Package memory records job events in-process, for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// Message is one recorded publish, in the same JSON form Pub/Sub receives.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher keeps every published message.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Topic: topic, Data: data}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = maps.Clone(a.Attributes())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	msg.ID = fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns the recorded publishes in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
