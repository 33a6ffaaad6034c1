// Package model holds the account/roster records the storage layer
// persists. Per spec's Non-goals, stanzas themselves are never
// persisted here — only the account metadata needed to authenticate a
// client and serve its roster.
package model

import "time"

// User is one local account: its bare JID's node, and a bcrypt hash of
// its SASL PLAIN password.
type User struct {
	Username     string
	PasswordHash string
	LoggedOutAt  time.Time
}

// RosterItem is one entry in a user's contact list, served by the
// jabber:iq:roster query IQ handler.
type RosterItem struct {
	Username     string
	ContactJID   string
	Name         string
	Subscription string
	Groups       []string
}
