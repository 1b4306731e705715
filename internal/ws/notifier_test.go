// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homewire/homewire/internal/models"
)

func newNotifierFixture(t *testing.T, users ...string) (*routerFixture, *Notifier) {
	t.Helper()
	f := newRouterFixture(t, users...)
	return f, NewNotifier(f.store, f.registry, f.router)
}

func TestNotifyPersistsAndPushes(t *testing.T) {
	f, n := newNotifierFixture(t, "alice")
	c := f.connect("alice")

	record, result, err := n.Notify(context.Background(), "alice", "new inquiry on 12 Elm St", models.NotificationInquiry, "prop-12")
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, 1, result.Targets)

	ev := nextEvent(t, c)
	require.Equal(t, models.EventNotification, ev.Type)
	pushed := decodeEvent[models.Notification](t, ev)
	assert.Equal(t, record.ID, pushed.ID)
	assert.Equal(t, models.NotificationInquiry, pushed.Category)
	assert.Equal(t, "prop-12", pushed.PropertyID)

	stored, err := f.store.Notifications(context.Background(), "alice", false, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, record.ID, stored[0].ID)
}

func TestNotifyOfflineTargetIsSuccess(t *testing.T) {
	f, n := newNotifierFixture(t, "alice")

	record, result, err := n.Notify(context.Background(), "alice", "price drop", models.NotificationAlert, "")
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Equal(t, 0, result.Targets)

	stored, err := f.store.Notifications(context.Background(), "alice", true, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, record.ID, stored[0].ID)
}

func TestNotifyNoDeduplication(t *testing.T) {
	f, n := newNotifierFixture(t, "alice")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := n.Notify(ctx, "alice", "same text", models.NotificationSystem, "")
		require.NoError(t, err)
	}

	stored, err := f.store.Notifications(ctx, "alice", false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 3, "identical notifications create distinct records")
}

func TestNotifyPersistenceFailureNoPush(t *testing.T) {
	f, n := newNotifierFixture(t, "alice")
	c := f.connect("alice")

	f.store.FailWrites = true
	_, _, err := n.Notify(context.Background(), "alice", "doomed", models.NotificationSystem, "")
	require.Error(t, err)
	assert.Empty(t, drainEvents(c))
}

func TestNotifyRejectsUnknownCategory(t *testing.T) {
	_, n := newNotifierFixture(t, "alice")

	_, _, err := n.Notify(context.Background(), "alice", "nope", "gossip", "")
	assert.Error(t, err)
}
