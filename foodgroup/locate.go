package foodgroup

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// LocateService handles the locate food group (0x02): profile text, away
// messages, and user info queries.
type LocateService struct {
	sessions    SessionLister
	broadcaster *buddyBroadcaster
}

// NewLocateService creates a locate handler.
func NewLocateService(sessions SessionLister, feedbag FeedbagManager, logger *slog.Logger) *LocateService {
	return &LocateService{
		sessions:    sessions,
		broadcaster: newBuddyBroadcaster(sessions, feedbag, logger),
	}
}

// RightsQuery returns the locate capability limits.
func (s LocateService) RightsQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	reply := wire.TLVList{
		wire.NewTLVUint16(0x0001, 0x0400), // max profile length
		wire.NewTLVUint16(0x0002, 0x0010), // max capabilities
		wire.NewTLVUint16(0x0005, 0x000A),
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.Locate,
		SubGroup:  wire.LocateRightsReply,
		RequestID: inFrame.RequestID,
	}, reply.Marshal())
}

// SetInfo stores profile and away-message text. A capability TLV is folded
// into the presence block and announced to watchers, since it changes what
// buddies see.
func (s LocateService) SetInfo(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	list := wire.UnmarshalTLVList(body)
	if profile, ok := list.String(wire.LocateTLVTagsInfoSigData); ok {
		sess.SetProfile(profile)
	}
	if away, ok := list.String(wire.LocateTLVTagsInfoUnavailableData); ok {
		sess.SetAwayMessage(away)
	}
	if caps, ok := list.Bytes(wire.LocateTLVTagsInfoCapabilities); ok {
		sess.MergeUserInfo(wire.TLVList{wire.NewTLVBytes(wire.UserInfoCapabilities, caps)})
		s.broadcaster.broadcastArrival(ctx, sess)
	}
	return nil
}

// UserInfoQuery returns the presence block and profile of a target user. An
// offline target gets a minimal placeholder so buggy clients don't hang
// waiting for a reply.
func (s LocateService) UserInfoQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	if len(body) < 3 {
		return fmt.Errorf("malformed user info query from %s", sess.UIN())
	}
	flags := binary.BigEndian.Uint16(body[0:2])
	nameLen := int(body[2])
	if 3+nameLen > len(body) {
		return fmt.Errorf("malformed user info query from %s", sess.UIN())
	}
	uin := string(body[3 : 3+nameLen])

	b := &wire.Builder{}
	if target := s.sessions.RetrieveSession(uin); target != nil {
		b.Bytes(target.TLVUserInfo().Marshal())
		if profile, ok := target.Profile(); ok {
			b.TLV(wire.NewTLVString(wire.LocateTLVTagsInfoSigData, profile))
		}
		if flags&wire.LocateQueryFlagAwayMessage != 0 {
			if away, ok := target.AwayMessage(); ok {
				b.TLV(wire.NewTLVString(wire.LocateTLVTagsInfoUnavailableData, away))
			}
		}
	} else {
		placeholder := wire.TLVUserInfo{
			ScreenName: uin,
			TLVList:    wire.TLVList{wire.NewTLVUint16(wire.UserInfoClass, 0x0040)},
		}
		b.Bytes(placeholder.Marshal())
		b.TLV(wire.NewTLVString(wire.LocateTLVTagsInfoSigData, "UIN: "+uin))
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.Locate,
		SubGroup:  wire.LocateUserInfoReply,
		RequestID: inFrame.RequestID,
	}, b.Build())
}
