package http

import (
	"context"

	"github.com/Artemchik-Development/node-icq-server/state"
)

// UserManager provides user account CRUD for the management API.
type UserManager interface {
	User(ctx context.Context, uin string) (state.User, error)
	InsertUser(ctx context.Context, u state.User) error
	DeleteUser(ctx context.Context, uin string) error
	AllUsers(ctx context.Context) ([]state.User, error)
}

// SessionRetriever exposes the live session registry.
type SessionRetriever interface {
	RetrieveSession(uin string) *state.Session
	AllSessions() []*state.Session
}

// MessageRelayer queues offline messages for recipients who are not signed
// on when an admin message is sent.
type MessageRelayer interface {
	StoreOfflineMessage(ctx context.Context, msg state.OfflineMessage) error
}

type onlineUsers struct {
	Count    int             `json:"count"`
	Sessions []sessionHandle `json:"sessions"`
}

type sessionHandle struct {
	UIN         string `json:"uin"`
	Status      uint16 `json:"status"`
	AwayMessage string `json:"away_message,omitempty"`
}

type instantMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}
