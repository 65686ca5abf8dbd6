// Package memory implements an in-process publisher for development and
// tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Message is one published record.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher records published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload and appends it to the message log.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.messages = append(p.messages, Message{Topic: topic, Payload: data})
	return strconv.Itoa(p.seq), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
