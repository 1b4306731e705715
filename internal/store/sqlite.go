// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/homewire/homewire/internal/metrics"
	"github.com/homewire/homewire/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and if necessary creates) the database at dbPath.
// If dbPath is empty, defaults to "./data/homewire.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/homewire.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		name TEXT DEFAULT '',
		role TEXT NOT NULL DEFAULT 'client',
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL REFERENCES users(id),
		receiver_id TEXT NOT NULL REFERENCES users(id),
		property_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL CHECK (content <> ''),
		attachments TEXT NOT NULL DEFAULT '[]',
		read INTEGER NOT NULL DEFAULT 0,
		read_at DATETIME,
		created_at DATETIME NOT NULL,
		CHECK (sender_id <> receiver_id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		property_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages(receiver_id, read);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) (err error) {
	defer s.observe("create_user", time.Now(), &err)

	if user.ID == "" {
		user.ID = NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.Role, user.PasswordHash, user.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrDuplicate
	}
	return err
}

// GetUserByID fetches a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (user *models.User, err error) {
	defer s.observe("get_user", time.Now(), &err)
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users WHERE id = ?`, id))
}

// GetUserByEmail fetches a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (user *models.User, err error) {
	defer s.observe("get_user_by_email", time.Now(), &err)
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateMessage inserts a message, assigning ID and CreatedAt when unset.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) (err error) {
	defer s.observe("create_message", time.Now(), &err)

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

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, property_id, content, attachments, read, read_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.PropertyID, msg.Content, string(attachments),
		boolToInt(msg.Read), msg.ReadAt, msg.CreatedAt,
	)
	return err
}

// GetMessage fetches a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (msg *models.Message, err error) {
	defer s.observe("get_message", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, receiver_id, property_id, content, attachments, read, read_at, created_at
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row.Scan)
}

// MessagesBetween lists messages between two users, optionally scoped to
// a property, newest first.
func (s *SQLiteStore) MessagesBetween(ctx context.Context, userA, userB, propertyID string, limit, offset int) (msgs []models.Message, err error) {
	defer s.observe("messages_between", time.Now(), &err)

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, sender_id, receiver_id, property_id, content, attachments, read, read_at, created_at
		 FROM messages
		 WHERE ((sender_id = ?1 AND receiver_id = ?2) OR (sender_id = ?2 AND receiver_id = ?1))`
	args := []interface{}{userA, userB}
	if propertyID != "" {
		query += ` AND property_id = ?3`
		args = append(args, propertyID)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		msg, scanErr := scanMessage(rows.Scan)
		if scanErr != nil {
			return nil, scanErr
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// MarkMessageRead sets the read flag and timestamp on a message.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id string, at time.Time) (err error) {
	defer s.observe("mark_message_read", time.Now(), &err)

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1, read_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Conversations derives conversation summaries: one row per counterpart
// (and property scope), carrying the latest message and the caller's
// unread count. ULID ordering makes MAX(id) the latest message per group.
func (s *SQLiteStore) Conversations(ctx context.Context, userID string) (convs []models.ConversationSummary, err error) {
	defer s.observe("conversations", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.receiver_id, m.property_id, m.content, m.created_at,
		       CASE WHEN m.sender_id = ?1 THEN m.receiver_id ELSE m.sender_id END AS counterpart,
		       COALESCE(u.name, '') AS counterpart_name,
		       (SELECT COUNT(*) FROM messages x
		          WHERE x.receiver_id = ?1 AND x.read = 0
		            AND x.sender_id = CASE WHEN m.sender_id = ?1 THEN m.receiver_id ELSE m.sender_id END
		            AND x.property_id = m.property_id) AS unread
		FROM messages m
		LEFT JOIN users u ON u.id = CASE WHEN m.sender_id = ?1 THEN m.receiver_id ELSE m.sender_id END
		WHERE m.id IN (
			SELECT MAX(id) FROM messages
			WHERE sender_id = ?1 OR receiver_id = ?1
			GROUP BY CASE WHEN sender_id = ?1 THEN receiver_id ELSE sender_id END, property_id
		)
		ORDER BY m.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                                       models.ConversationSummary
			senderID, receiverID, content, property string
			createdAt                               time.Time
		)
		if err := rows.Scan(&c.LastMessageID, &senderID, &receiverID, &property, &content,
			&createdAt, &c.CounterpartID, &c.CounterpartName, &c.UnreadCount); err != nil {
			return nil, err
		}
		c.PropertyID = property
		c.LastContent = content
		c.LastSenderID = senderID
		c.LastCreatedAt = createdAt
		c.Key = models.ConversationKey(senderID, receiverID, property)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// CreateNotification inserts a notification, assigning ID and CreatedAt
// when unset. No deduplication: identical calls create distinct records.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) (err error) {
	defer s.observe("create_notification", time.Now(), &err)

	if !models.ValidNotificationCategory(n.Category) {
		return fmt.Errorf("store: unknown notification category %q", n.Category)
	}
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, text, category, read, property_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Text, string(n.Category), boolToInt(n.Read), n.PropertyID, n.CreatedAt,
	)
	return err
}

// Notifications lists a user's notifications, newest first.
func (s *SQLiteStore) Notifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) (ns []models.Notification, err error) {
	defer s.observe("notifications", time.Now(), &err)

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, user_id, text, category, read, property_id, created_at
		 FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n        models.Notification
			category string
			read     int
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &category, &read, &n.PropertyID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Category = models.NotificationCategory(category)
		n.Read = read != 0
		ns = append(ns, n)
	}
	return ns, rows.Err()
}

// MarkNotificationRead sets the read flag on one notification owned by userID.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, userID string) (err error) {
	defer s.observe("mark_notification_read", time.Now(), &err)
	return s.execOwned(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
}

// MarkAllNotificationsRead sets the read flag on all of a user's
// notifications, returning the number updated.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) (n int64, err error) {
	defer s.observe("mark_all_notifications_read", time.Now(), &err)

	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteNotification removes one notification owned by userID.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id, userID string) (err error) {
	defer s.observe("delete_notification", time.Now(), &err)
	return s.execOwned(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
}

// execOwned runs a statement scoped to (id, userID) and converts a
// zero-row result into ErrNotFound.
func (s *SQLiteStore) execOwned(ctx context.Context, query, id, userID string) error {
	res, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// observe records query metrics for an operation.
func (s *SQLiteStore) observe(operation string, start time.Time, err *error) {
	metrics.RecordStoreQuery(operation, time.Since(start), *err)
}

func scanMessage(scan func(dest ...interface{}) error) (*models.Message, error) {
	var (
		m           models.Message
		attachments string
		read        int
		readAt      sql.NullTime
	)
	err := scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.PropertyID, &m.Content,
		&attachments, &read, &readAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Read = read != 0
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
