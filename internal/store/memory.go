// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/homewire/homewire/internal/models"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// the store.driver=memory configuration; data does not survive restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	usersByEmail  map[string]string
	messages      map[string]*models.Message
	messageOrder  []string
	notifications map[string]*models.Notification
	notifOrder    []string

	// FailWrites forces write operations to fail, for exercising
	// persistence-error paths in tests.
	FailWrites bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*models.User),
		usersByEmail:  make(map[string]string),
		messages:      make(map[string]*models.Message),
		notifications: make(map[string]*models.Notification),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping is a no-op.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) writeErr() error {
	if s.FailWrites {
		return fmt.Errorf("store: write unavailable")
	}
	return nil
}

// CreateUser inserts a user record.
func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.usersByEmail[user.Email]; exists {
		return ErrDuplicate
	}

	u := *user
	s.users[u.ID] = &u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

// GetUserByID fetches a user by id.
func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

// GetUserByEmail fetches a user by email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

// CreateMessage inserts a message, assigning ID and CreatedAt when unset.
func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	if msg.Content == "" {
		return fmt.Errorf("store: message content must not be empty")
	}
	if msg.SenderID == msg.ReceiverID {
		return fmt.Errorf("store: sender and receiver must be distinct")
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m := *msg
	s.messages[m.ID] = &m
	s.messageOrder = append(s.messageOrder, m.ID)
	return nil
}

// GetMessage fetches a message by id.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

// MessagesBetween lists messages between two users, newest first.
func (s *MemoryStore) MessagesBetween(_ context.Context, userA, userB, propertyID string, limit, offset int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var out []models.Message
	// messageOrder is append-only; walk backwards for newest first.
	for i := len(s.messageOrder) - 1; i >= 0; i-- {
		m := s.messages[s.messageOrder[i]]
		pair := (m.SenderID == userA && m.ReceiverID == userB) ||
			(m.SenderID == userB && m.ReceiverID == userA)
		if !pair {
			continue
		}
		if propertyID != "" && m.PropertyID != propertyID {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkMessageRead sets the read flag and timestamp on a message.
func (s *MemoryStore) MarkMessageRead(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Read = true
	t := at
	m.ReadAt = &t
	return nil
}

// Conversations derives conversation summaries for a user.
func (s *MemoryStore) Conversations(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type group struct {
		latest *models.Message
		unread int
	}
	groups := make(map[string]*group)

	for _, id := range s.messageOrder {
		m := s.messages[id]
		if !m.Participant(userID) {
			continue
		}
		key := m.Counterpart(userID) + "|" + m.PropertyID
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		// ULIDs are creation-ordered, so a later id is a later message.
		if g.latest == nil || m.ID > g.latest.ID {
			g.latest = m
		}
		if m.ReceiverID == userID && !m.Read {
			g.unread++
		}
	}

	out := make([]models.ConversationSummary, 0, len(groups))
	for _, g := range groups {
		m := g.latest
		counterpart := m.Counterpart(userID)
		summary := models.ConversationSummary{
			Key:           models.ConversationKey(m.SenderID, m.ReceiverID, m.PropertyID),
			CounterpartID: counterpart,
			PropertyID:    m.PropertyID,
			LastMessageID: m.ID,
			LastContent:   m.Content,
			LastSenderID:  m.SenderID,
			LastCreatedAt: m.CreatedAt,
			UnreadCount:   g.unread,
		}
		if u, ok := s.users[counterpart]; ok {
			summary.CounterpartName = u.Name
		}
		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageID > out[j].LastMessageID
	})
	return out, nil
}

// CreateNotification inserts a notification record.
func (s *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	if !models.ValidNotificationCategory(n.Category) {
		return fmt.Errorf("store: unknown notification category %q", n.Category)
	}
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	copied := *n
	s.notifications[copied.ID] = &copied
	s.notifOrder = append(s.notifOrder, copied.ID)
	return nil
}

// Notifications lists a user's notifications, newest first.
func (s *MemoryStore) Notifications(_ context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var out []models.Notification
	for i := len(s.notifOrder) - 1; i >= 0; i-- {
		n := s.notifications[s.notifOrder[i]]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, *n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkNotificationRead sets the read flag on one owned notification.
func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// MarkAllNotificationsRead sets the read flag on all of a user's notifications.
func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return 0, err
	}
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

// DeleteNotification removes one owned notification.
func (s *MemoryStore) DeleteNotification(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeErr(); err != nil {
		return err
	}
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	delete(s.notifications, id)
	for i, oid := range s.notifOrder {
		if oid == id {
			s.notifOrder = append(s.notifOrder[:i], s.notifOrder[i+1:]...)
			break
		}
	}
	return nil
}
