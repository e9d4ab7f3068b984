package foodgroup

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// FeedbagService handles the server-stored roster food group (0x13).
type FeedbagService struct {
	feedbag     FeedbagManager
	sessions    SessionLister
	broadcaster *buddyBroadcaster
	timeNow     timeSource
	logger      *slog.Logger
}

// NewFeedbagService creates a roster handler.
func NewFeedbagService(feedbag FeedbagManager, sessions SessionLister, timeNow timeSource, logger *slog.Logger) *FeedbagService {
	return &FeedbagService{
		feedbag:     feedbag,
		sessions:    sessions,
		broadcaster: newBuddyBroadcaster(sessions, feedbag, logger),
		timeNow:     timeNow,
		logger:      logger,
	}
}

// RightsQuery returns the roster size limits.
func (s FeedbagService) RightsQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	reply := wire.TLVList{
		wire.NewTLVUint16(0x0004, 1000), // max items
		wire.NewTLVUint16(0x0005, 100),  // max groups
		wire.NewTLVUint16(0x0006, 200),
		wire.NewTLVUint16(0x0007, 200),
		wire.NewTLVUint16(0x0008, 200),
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.Feedbag,
		SubGroup:  wire.FeedbagRightsReply,
		RequestID: inFrame.RequestID,
	}, reply.Marshal())
}

// Query returns the full persisted roster and primes the watch set from its
// buddy entries.
func (s FeedbagService) Query(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return s.sendFullRoster(ctx, sess, inFrame, rw)
}

// QueryIfModified short-circuits when the client's cached roster still
// matches. The check compares item counts, an approximation carried over from
// client expectations rather than a content hash.
func (s FeedbagService) QueryIfModified(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	if len(body) < 6 {
		return s.sendFullRoster(ctx, sess, inFrame, rw)
	}
	clientTime := binary.BigEndian.Uint32(body[0:4])
	clientCount := binary.BigEndian.Uint16(body[4:6])

	items, err := s.feedbag.Feedbag(ctx, sess.UIN())
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	if clientTime > 0 && int(clientCount) == len(items) {
		s.primeWatchSet(sess, items)
		b := &wire.Builder{}
		b.Uint32(uint32(s.timeNow().Unix()))
		b.Uint16(clientCount)
		return rw.SendSNAC(wire.SNACFrame{
			FoodGroup: wire.Feedbag,
			SubGroup:  wire.FeedbagReplyNotModified,
			RequestID: inFrame.RequestID,
		}, b.Build())
	}
	return s.sendFullRoster(ctx, sess, inFrame, rw)
}

func (s FeedbagService) sendFullRoster(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, rw ResponseWriter) error {
	items, err := s.feedbag.Feedbag(ctx, sess.UIN())
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	s.primeWatchSet(sess, items)

	b := &wire.Builder{}
	b.Uint8(0) // roster version
	b.Uint16(uint16(len(items)))
	for _, item := range items {
		b.Bytes(item.Marshal())
	}
	b.Uint32(uint32(s.timeNow().Unix()))
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.Feedbag,
		SubGroup:  wire.FeedbagReply,
		RequestID: inFrame.RequestID,
	}, b.Build())
}

func (s FeedbagService) primeWatchSet(sess *state.Session, items []wire.FeedbagItem) {
	for _, item := range items {
		if item.ClassID == wire.FeedbagClassIDBuddy {
			sess.Watch(item.Name)
		}
	}
}

// Use activates the roster: push the current presence of every watched buddy
// who is online, then announce this session's own arrival.
func (s FeedbagService) Use(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	for _, other := range s.sessions.AllSessions() {
		if other == sess || !sess.Watches(other.UIN()) {
			continue
		}
		if err := rw.SendSNAC(wire.SNACFrame{
			FoodGroup: wire.Buddy,
			SubGroup:  wire.BuddyArrived,
		}, other.TLVUserInfo().Marshal()); err != nil {
			return err
		}
	}
	s.broadcaster.broadcastArrival(ctx, sess)
	return nil
}

// InsertItem persists new roster items with a per-item result code.
func (s FeedbagService) InsertItem(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return s.upsertItems(ctx, sess, inFrame, body, rw)
}

// UpdateItem persists roster item updates, same shape as insert.
func (s FeedbagService) UpdateItem(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return s.upsertItems(ctx, sess, inFrame, body, rw)
}

func (s FeedbagService) upsertItems(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	items := wire.UnmarshalFeedbagItems(body)
	codes := make([]uint16, 0, len(items))
	for _, item := range items {
		if err := s.feedbag.FeedbagUpsert(ctx, sess.UIN(), item); err != nil {
			s.logger.ErrorContext(ctx, "roster upsert failed",
				"uin", sess.UIN(), "item", item.Name, "err", err.Error())
			codes = append(codes, wire.FeedbagStatusCodeDBFail)
			continue
		}
		codes = append(codes, wire.FeedbagStatusCodeOK)
		if item.ClassID == wire.FeedbagClassIDBuddy {
			sess.Watch(item.Name)
			s.broadcaster.unicastArrival(ctx, item.Name, sess)
		}
	}
	return s.sendStatus(inFrame, codes, rw)
}

// DeleteItem removes roster items with a per-item result code.
func (s FeedbagService) DeleteItem(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	items := wire.UnmarshalFeedbagItems(body)
	codes := make([]uint16, 0, len(items))
	for _, item := range items {
		if err := s.feedbag.FeedbagDelete(ctx, sess.UIN(), item); err != nil {
			s.logger.ErrorContext(ctx, "roster delete failed",
				"uin", sess.UIN(), "item", item.Name, "err", err.Error())
			codes = append(codes, wire.FeedbagStatusCodeDBFail)
			continue
		}
		codes = append(codes, wire.FeedbagStatusCodeOK)
		if item.ClassID == wire.FeedbagClassIDBuddy {
			sess.Unwatch(item.Name)
		}
	}
	return s.sendStatus(inFrame, codes, rw)
}

func (s FeedbagService) sendStatus(inFrame wire.SNACFrame, codes []uint16, rw ResponseWriter) error {
	b := &wire.Builder{}
	for _, code := range codes {
		b.Uint16(code)
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.Feedbag,
		SubGroup:  wire.FeedbagStatus,
		RequestID: inFrame.RequestID,
	}, b.Build())
}

// StartCluster opens an edit transaction. Items arrive via insert/update.
func (s FeedbagService) StartCluster(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return nil
}

// EndCluster closes an edit transaction by reloading the watch set from the
// persisted roster, picking up whatever the edits left behind.
func (s FeedbagService) EndCluster(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	names, err := s.feedbag.BuddyNames(ctx, sess.UIN())
	if err != nil {
		return fmt.Errorf("reload watch set: %w", err)
	}
	sess.SetWatchList(names)
	return nil
}
