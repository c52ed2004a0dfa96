package offline

import (
	"context"
	"fmt"
	"log/slog"
)

// MessageType names a control message sent by the app.
type MessageType string

// Control messages.
const (
	MessageSkipWaiting    MessageType = "SKIP_WAITING"
	MessageGetCacheStatus MessageType = "GET_CACHE_STATUS"
)

// Message is a control message from the app. Port receives the reply, if
// any; it is not part of the wire form.
type Message struct {
	Type MessageType `json:"type"`
	Port Port        `json:"-"`
}

// Port receives replies to control messages.
type Port interface {
	PostMessage(v any) error
}

// PortFunc adapts a function to a Port.
type PortFunc func(v any) error

// PostMessage calls f(v).
func (f PortFunc) PostMessage(v any) error { return f(v) }

// CacheStatus is the reply to GET_CACHE_STATUS.
type CacheStatus struct {
	// Cached holds the URL path of every cached request.
	Cached []string `json:"cached"`
	Count  int      `json:"count"`
}

// HandleMessage processes a control message.
//
// SKIP_WAITING requests immediate activation. GET_CACHE_STATUS posts a
// CacheStatus to msg.Port; without a port the message is ignored.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		m.logger.Debug("skip waiting requested")
		m.SkipWaiting()
		return nil
	case MessageGetCacheStatus:
		if msg.Port == nil {
			return nil
		}
		status, err := m.CacheStatus(ctx)
		if err != nil {
			return err
		}
		if err := msg.Port.PostMessage(status); err != nil {
			return fmt.Errorf("post cache status: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// CacheStatus lists the requests currently stored in the manager's cache.
func (m *Manager) CacheStatus(ctx context.Context) (CacheStatus, error) {
	c, err := m.open(ctx)
	if err != nil {
		return CacheStatus{}, fmt.Errorf("open cache: %w", err)
	}
	if c == nil {
		return CacheStatus{Cached: []string{}}, nil
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return CacheStatus{}, fmt.Errorf("list cache: %w", err)
	}
	status := CacheStatus{Cached: make([]string, 0, len(keys)), Count: len(keys)}
	for _, key := range keys {
		status.Cached = append(status.Cached, key.Path())
	}
	m.logger.Debug("cache status", slog.Int("count", status.Count))
	return status, nil
}
