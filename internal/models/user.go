// Homewire - Real Estate CRM Messaging and Notification Server
// Copyright 2026 Homewire contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/homewire/homewire

package models

import "time"

// User roles recognized by the messaging core.
const (
	RoleAgent  = "agent"
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// User is the identity slice of a CRM account that the messaging core
// needs: enough to authenticate a connection and address a message.
// Profile data beyond this lives in the excluded REST layer.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
