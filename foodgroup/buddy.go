package foodgroup

import (
	"context"
	"log/slog"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// buddyBroadcaster fans presence transitions out to every session watching
// the user who changed state.
type buddyBroadcaster struct {
	sessions SessionLister
	feedbag  FeedbagManager
	logger   *slog.Logger
}

func newBuddyBroadcaster(sessions SessionLister, feedbag FeedbagManager, logger *slog.Logger) *buddyBroadcaster {
	return &buddyBroadcaster{sessions: sessions, feedbag: feedbag, logger: logger}
}

// broadcastArrival pushes an arrival notification carrying the full presence
// block to every watcher. Each watcher is visited once.
func (b *buddyBroadcaster) broadcastArrival(ctx context.Context, sess *state.Session) {
	body := sess.TLVUserInfo().Marshal()
	b.broadcast(ctx, sess, wire.BuddyArrived, body)
}

// broadcastDeparture pushes a departure notification carrying a bare presence
// block to every watcher.
func (b *buddyBroadcaster) broadcastDeparture(ctx context.Context, sess *state.Session) {
	body := wire.TLVUserInfo{ScreenName: sess.UIN()}.Marshal()
	b.broadcast(ctx, sess, wire.BuddyDeparted, body)
}

func (b *buddyBroadcaster) broadcast(ctx context.Context, sess *state.Session, subGroup uint16, body []byte) {
	b.resolveImplicitWatchers(ctx, sess)
	for _, watcher := range b.sessions.AllSessions() {
		if watcher == sess || !watcher.Watches(sess.UIN()) {
			continue
		}
		msg := wire.SNACMessage{
			Frame: wire.SNACFrame{FoodGroup: wire.Buddy, SubGroup: subGroup},
			Body:  body,
		}
		if status := watcher.RelayMessage(msg); status != state.SessSendOK {
			b.logger.DebugContext(ctx, "presence relay failed",
				"watcher", watcher.UIN(), "uin", sess.UIN(), "status", int(status))
		}
	}
}

// resolveImplicitWatchers folds roster-based watchers into live watch sets:
// a session whose persisted roster lists sess as a buddy starts watching it
// the first time sess changes state, without a storage lookup on later
// events.
func (b *buddyBroadcaster) resolveImplicitWatchers(ctx context.Context, sess *state.Session) {
	watchers, err := b.feedbag.BuddyWatchers(ctx, sess.UIN())
	if err != nil {
		b.logger.ErrorContext(ctx, "resolve roster watchers", "uin", sess.UIN(), "err", err.Error())
		return
	}
	for _, uin := range watchers {
		if watcher := b.sessions.RetrieveSession(uin); watcher != nil {
			watcher.Watch(sess.UIN())
		}
	}
}

// unicastArrival pushes one user's presence to a single watcher, used when a
// buddy is added while already online.
func (b *buddyBroadcaster) unicastArrival(ctx context.Context, uin string, to *state.Session) {
	sess := b.sessions.RetrieveSession(uin)
	if sess == nil {
		return
	}
	msg := wire.SNACMessage{
		Frame: wire.SNACFrame{FoodGroup: wire.Buddy, SubGroup: wire.BuddyArrived},
		Body:  sess.TLVUserInfo().Marshal(),
	}
	if status := to.RelayMessage(msg); status != state.SessSendOK {
		b.logger.DebugContext(ctx, "presence relay failed",
			"watcher", to.UIN(), "uin", uin, "status", int(status))
	}
}

// BuddyService handles the client-side buddy list food group (0x03). Watch
// state lives on the session; the persistent roster is the feedbag's job.
type BuddyService struct {
	broadcaster *buddyBroadcaster
}

// NewBuddyService creates a buddy service sharing the presence broadcaster.
func NewBuddyService(sessions SessionLister, feedbag FeedbagManager, logger *slog.Logger) *BuddyService {
	return &BuddyService{broadcaster: newBuddyBroadcaster(sessions, feedbag, logger)}
}

// RightsQuery returns the buddy list limits.
func (s BuddyService) RightsQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	reply := wire.TLVList{
		wire.NewTLVUint16(0x0001, 1000), // max buddies
		wire.NewTLVUint16(0x0002, 200),  // max watchers
		wire.NewTLVUint16(0x0003, 200),  // max online notifications
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.Buddy,
		SubGroup:  wire.BuddyRightsReply,
		RequestID: inFrame.RequestID,
	}, reply.Marshal())
}

// AddBuddies registers client-side buddies and immediately pushes an arrival
// for each one already online.
func (s BuddyService) AddBuddies(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	for _, uin := range parseBuddyList(body) {
		sess.Watch(uin)
		s.broadcaster.unicastArrival(ctx, uin, sess)
	}
	return nil
}

// DelBuddies unregisters client-side buddies. No departure is pushed; the
// client already dropped them.
func (s BuddyService) DelBuddies(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	sess.Unwatch(parseBuddyList(body)...)
	return nil
}

// parseBuddyList decodes the packed u8-length-prefixed UIN list carried by
// buddy add and delete commands. A truncated tail entry is dropped.
func parseBuddyList(b []byte) []string {
	var uins []string
	pos := 0
	for pos < len(b) {
		nameLen := int(b[pos])
		pos++
		if pos+nameLen > len(b) {
			break
		}
		uins = append(uins, string(b[pos:pos+nameLen]))
		pos += nameLen
	}
	return uins
}
