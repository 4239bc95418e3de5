package broker

import (
	"fmt"
	"sync"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// Subscriber is the send side of one client connection. Enqueue must never
// block; it returns false once the connection is closed.
type Subscriber interface {
	ID() string
	Enqueue(env models.Envelope) bool
}

// Registry tracks which connections subscribe to which topics. Reads
// happen on every publish, writes only on connect, subscribe, unsubscribe,
// and disconnect, so it uses a readers-writer lock rather than a global
// mutex per publish.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	topics map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:   make(map[string]Subscriber),
		topics: make(map[string]map[string]struct{}),
	}
}

// Register makes a connection known to the registry. It starts with no
// topic subscriptions.
func (r *Registry) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID()] = sub
}

// Subscribe adds the connection to each topic. Unknown connections are an
// error; duplicate subscriptions are not.
func (r *Registry) Subscribe(connectionID string, topics ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[connectionID]; !ok {
		return fmt.Errorf("unknown connection %s", connectionID)
	}
	for _, topic := range topics {
		set, ok := r.topics[topic]
		if !ok {
			set = make(map[string]struct{})
			r.topics[topic] = set
		}
		set[connectionID] = struct{}{}
	}
	return nil
}

// Unsubscribe removes the connection from each topic. Topics it was never
// subscribed to are ignored.
func (r *Registry) Unsubscribe(connectionID string, topics ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range topics {
		r.removeLocked(connectionID, topic)
	}
}

// Drop removes the connection from every topic atomically. It is
// idempotent: duplicate or late disconnect signals are safe.
func (r *Registry) Drop(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, connectionID)
	for topic := range r.topics {
		r.removeLocked(connectionID, topic)
	}
}

// SubscribersOf returns a snapshot of the subscribers of a topic.
func (r *Registry) SubscribersOf(topic string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.topics[topic]
	if !ok || len(ids) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(ids))
	for id := range ids {
		if sub, ok := r.subs[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// Stats reports subscriber counts per topic, for the ops surface.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int, len(r.topics))
	for topic, ids := range r.topics {
		if len(ids) > 0 {
			stats[topic] = len(ids)
		}
	}
	return stats
}

// Connections returns the number of registered connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) removeLocked(connectionID, topic string) {
	set, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.topics, topic)
	}
}
