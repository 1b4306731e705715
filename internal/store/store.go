// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

// Package store provides durable persistence for users, messages, and
// notifications. The realtime core consumes the Store interface only;
// SQLiteStore is the production backend and MemoryStore backs tests.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/homewire/homewire/internal/models"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store is the persistence boundary of the messaging core.
//
// Implementations must provide their own concurrency safety (atomic
// per-record writes); callers rely on CreateMessage having completed
// before any live fan-out of that message.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Message operations. CreateMessage assigns ID and CreatedAt when
	// unset. Messages are never deleted.
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	MessagesBetween(ctx context.Context, userA, userB, propertyID string, limit, offset int) ([]models.Message, error)
	MarkMessageRead(ctx context.Context, id string, at time.Time) error

	// Conversations derives conversation summaries for a user by
	// grouping messages by counterpart identity (and property scope),
	// most recent first.
	Conversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)

	// Notification operations. CreateNotification assigns ID and
	// CreatedAt when unset and performs no deduplication.
	CreateNotification(ctx context.Context, n *models.Notification) error
	Notifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id, userID string) error
}

// NewID returns a new ULID. ULIDs sort lexicographically by creation
// time, which the conversation grouping queries rely on.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
