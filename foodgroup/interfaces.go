package foodgroup

import (
	"context"
	"time"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// timeSource supplies the current time, replaceable in tests.
type timeSource func() time.Time

// ResponseWriter sends command frames back on the connection that produced
// the inbound frame.
type ResponseWriter interface {
	SendSNAC(frame wire.SNACFrame, body []byte) error
}

type SessionRetriever interface {
	RetrieveSession(uin string) *state.Session
}

type SessionLister interface {
	SessionRetriever
	AllSessions() []*state.Session
}

type SessionRegistry interface {
	AddSession(uin string) *state.Session
	RemoveSession(sess *state.Session)
}

type UserManager interface {
	User(ctx context.Context, uin string) (state.User, error)
	InsertUser(ctx context.Context, u state.User) error
}

type UserFinder interface {
	FindByUIN(ctx context.Context, uin string) ([]state.User, error)
	FindByDetails(ctx context.Context, nickname, firstName, lastName, email string) ([]state.User, error)
	SetUserDetails(ctx context.Context, u state.User) error
}

type FeedbagManager interface {
	Feedbag(ctx context.Context, uin string) ([]wire.FeedbagItem, error)
	FeedbagUpsert(ctx context.Context, uin string, item wire.FeedbagItem) error
	FeedbagDelete(ctx context.Context, uin string, item wire.FeedbagItem) error
	BuddyNames(ctx context.Context, uin string) ([]string, error)
	BuddyWatchers(ctx context.Context, uin string) ([]string, error)
}

type OfflineMessageManager interface {
	StoreOfflineMessage(ctx context.Context, msg state.OfflineMessage) error
	DrainOfflineMessages(ctx context.Context, recipient string) ([]state.OfflineMessage, error)
}

type CookieIssuer interface {
	Issue(uin string) ([]byte, error)
}

type CookieConsumer interface {
	Consume(cookie []byte) (string, bool)
}

type ChallengeManager interface {
	Issue(uin string) (string, error)
	Consume(uin string) (string, bool)
}
