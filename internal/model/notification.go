// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"
	"time"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

func notificationSchema() cache.Schema {
	return cache.Schema{
		Collection: CollectionNotifications,
		Fields: []cache.FieldDef{
			{Name: "subject", Validate: nonBlankString},
			{Name: "body", Validate: anyString},
			{Name: "sentAt", Validate: timestamp},
			{Name: "read", Validate: boolValue, Editable: true},
			// The sender and the event may outlive deletion; the message
			// keeps reading without them.
			{Name: "eventID", Ref: CollectionEvents, Nullable: true},
			{Name: "senderID", Ref: CollectionUsers, Nullable: true},
			{Name: "receiverID", Ref: CollectionUsers},
		},
	}
}

// Notification wraps a notifications entity.
type Notification struct {
	*cache.Entity
}

// AsNotification types an entity fetched from the notifications collection.
func AsNotification(e *cache.Entity) Notification {
	return Notification{Entity: e}
}

// FetchNotification fetches and types a notification.
func FetchNotification(ctx context.Context, c *cache.Cache, id string) (Notification, error) {
	e, err := c.Fetch(ctx, CollectionNotifications, id)
	if err != nil {
		return Notification{}, err
	}
	return AsNotification(e), nil
}

// NewNotificationFields assembles a notifications field map. Blank eventID
// or senderID leave those references unset.
func NewNotificationFields(subject, body, eventID, senderID, receiverID string) docstore.Fields {
	return docstore.Fields{
		"subject":    subject,
		"body":       body,
		"sentAt":     Millis(time.Now()),
		"read":       false,
		"eventID":    eventID,
		"senderID":   senderID,
		"receiverID": receiverID,
	}
}

// CreateNotification validates and delivers a notification document.
func CreateNotification(ctx context.Context, c *cache.Cache, fields docstore.Fields) (Notification, error) {
	e, err := c.CreateInstance(ctx, CollectionNotifications, "", fields)
	if err != nil {
		return Notification{}, err
	}
	return AsNotification(e), nil
}

// Subject returns the message subject.
func (n Notification) Subject() string { return propString(n.Entity, "subject") }

// Body returns the message body.
func (n Notification) Body() string { return propString(n.Entity, "body") }

// SentAt returns the delivery time.
func (n Notification) SentAt() time.Time { return propTime(n.Entity, "sentAt") }

// Read reports whether the receiver opened the message.
func (n Notification) Read() bool { return propBool(n.Entity, "read") }

// MarkRead flags the message as opened.
func (n Notification) MarkRead(ctx context.Context) error {
	_, err := n.SetProperty(ctx, "read", true)
	return err
}

// Receiver returns the addressed user.
func (n Notification) Receiver() User {
	return AsUser(n.Ref("receiverID"))
}

// Sender returns the sending user, or ok=false for system messages.
func (n Notification) Sender() (User, bool) {
	e := n.Ref("senderID")
	if e == nil {
		return User{}, false
	}
	return AsUser(e), true
}

// About returns the event the message concerns, or ok=false.
func (n Notification) About() (Event, bool) {
	e := n.Ref("eventID")
	if e == nil {
		return Event{}, false
	}
	return AsEvent(e), true
}
