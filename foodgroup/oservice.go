package foodgroup

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// motdSignon and motdWelcome are the message-of-the-day texts pushed at
// sign-on and after the rate acknowledgment.
const (
	motdSignon  = "Welcome to NodeICQ!"
	motdWelcome = "Welcome!"
)

// hostedFamilyVersions is the protocol version this host speaks per food
// group, in the order announced at sign-on.
var hostedFamilyVersions = []struct {
	FoodGroup uint16
	Version   uint16
}{
	{wire.OService, 4},
	{wire.Locate, 1},
	{wire.Buddy, 1},
	{wire.ICBM, 1},
	{wire.PermitDeny, 1},
	{wire.Feedbag, 5},
	{wire.ICQ, 1},
}

// ratedSubGroups lists every (family, subtype) pair folded into the single
// synthetic rate class.
var ratedSubGroups = []struct {
	FoodGroup uint16
	SubGroup  uint16
}{
	{wire.OService, wire.OServiceClientOnline},
	{wire.OService, wire.OServiceRateParamsQuery},
	{wire.OService, wire.OServiceSetStatus},
	{wire.OService, wire.OServiceUserInfoUpdate},
	{wire.OService, wire.OServiceIdleNotification},
	{wire.Locate, wire.LocateRightsQuery},
	{wire.Locate, wire.LocateSetInfo},
	{wire.Locate, wire.LocateUserInfoQuery},
	{wire.Buddy, wire.BuddyRightsQuery},
	{wire.Buddy, wire.BuddyAddBuddies},
	{wire.Buddy, wire.BuddyDelBuddies},
	{wire.ICBM, wire.ICBMParameterQuery},
	{wire.ICBM, wire.ICBMChannelMsgToHost},
	{wire.PermitDeny, wire.PermitDenyRightsQuery},
	{wire.Feedbag, wire.FeedbagRightsQuery},
	{wire.Feedbag, wire.FeedbagQuery},
	{wire.Feedbag, wire.FeedbagQueryIfModified},
	{wire.Feedbag, wire.FeedbagUse},
	{wire.Feedbag, wire.FeedbagInsertItem},
	{wire.Feedbag, wire.FeedbagUpdateItem},
	{wire.Feedbag, wire.FeedbagDeleteItem},
	{wire.ICQ, wire.ICQDBQuery},
}

// OServiceService handles the generic service food group (0x01): sign-on
// negotiation, rate limits, status updates, and the offline-message flush at
// client-ready time.
type OServiceService struct {
	offlineMessages OfflineMessageManager
	broadcaster     *buddyBroadcaster
	logger          *slog.Logger
}

// NewOServiceService creates an OService handler.
func NewOServiceService(offlineMessages OfflineMessageManager, sessions SessionLister, feedbag FeedbagManager, logger *slog.Logger) *OServiceService {
	return &OServiceService{
		offlineMessages: offlineMessages,
		broadcaster:     newBuddyBroadcaster(sessions, feedbag, logger),
		logger:          logger,
	}
}

// HostOnline builds the family announcement frame sent right after a BOS
// connection is established.
func (s OServiceService) HostOnline() wire.SNACMessage {
	b := &wire.Builder{}
	for _, fam := range hostedFamilyVersions {
		b.Uint16(fam.FoodGroup)
	}
	return wire.SNACMessage{
		Frame: wire.SNACFrame{FoodGroup: wire.OService, SubGroup: wire.OServiceHostOnline},
		Body:  b.Build(),
	}
}

// MOTD builds a message-of-the-day frame.
func (s OServiceService) MOTD(motdType uint16, text string) wire.SNACMessage {
	b := &wire.Builder{}
	b.Uint16(motdType)
	b.TLV(wire.NewTLVString(0x000B, text))
	return wire.SNACMessage{
		Frame: wire.SNACFrame{FoodGroup: wire.OService, SubGroup: wire.OServiceMOTD},
		Body:  b.Build(),
	}
}

// SignonMOTD is the welcome pushed with the family list at sign-on.
func (s OServiceService) SignonMOTD() wire.SNACMessage {
	return s.MOTD(1, motdSignon)
}

// ClientVersions acknowledges the client's version negotiation with the
// versions this host actually speaks.
func (s OServiceService) ClientVersions(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	b := &wire.Builder{}
	for _, fam := range hostedFamilyVersions {
		b.Uint16(fam.FoodGroup)
		b.Uint16(fam.Version)
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.OService,
		SubGroup:  wire.OServiceHostVersions,
		RequestID: inFrame.RequestID,
	}, b.Build())
}

// RateParamsQuery returns one synthetic rate class covering every supported
// command. No actual throttling is applied; clients only need the reply to
// proceed with sign-on.
func (s OServiceService) RateParamsQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	b := &wire.Builder{}
	b.Uint16(1) // class count
	b.Uint16(1) // class ID
	for _, v := range []uint32{80, 2500, 2000, 1500, 1000, 2500, 6000, 0} {
		b.Uint32(v)
	}
	b.Uint8(0) // current state

	b.Uint16(1) // group: class ID
	b.Uint16(uint16(len(ratedSubGroups)))
	for _, pair := range ratedSubGroups {
		b.Uint16(pair.FoodGroup)
		b.Uint16(pair.SubGroup)
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.OService,
		SubGroup:  wire.OServiceRateParamsReply,
		RequestID: inFrame.RequestID,
	}, b.Build())
}

// RateParamsSubAdd resends the MOTD. Some clients stall after the rate
// acknowledgment until they see another server frame.
func (s OServiceService) RateParamsSubAdd(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	msg := s.MOTD(4, motdWelcome)
	return rw.SendSNAC(msg.Frame, msg.Body)
}

// ServiceRequest rejects secondary service redirection; this host serves
// everything on the BOS connection.
func (s OServiceService) ServiceRequest(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	b := &wire.Builder{}
	b.Uint16(wire.ErrorCodeServiceUnavailable)
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.OService,
		SubGroup:  wire.OServiceErr,
		RequestID: inFrame.RequestID,
	}, b.Build())
}

// ClientOnline completes sign-on: push the user's own presence block, then
// flush any messages queued while they were offline.
func (s OServiceService) ClientOnline(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	if err := rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.OService,
		SubGroup:  wire.OServiceUserInfoUpdate,
	}, sess.TLVUserInfo().Marshal()); err != nil {
		return err
	}

	msgs, err := s.offlineMessages.DrainOfflineMessages(ctx, sess.UIN())
	if err != nil {
		return fmt.Errorf("drain offline messages: %w", err)
	}
	for _, msg := range msgs {
		icbm := NewIncomingICBM(wire.TLVUserInfo{ScreenName: msg.Sender}, msg.Message)
		if err := rw.SendSNAC(icbm.Frame, icbm.Body); err != nil {
			return err
		}
	}
	if len(msgs) > 0 {
		s.logger.InfoContext(ctx, "flushed offline messages", "uin", sess.UIN(), "count", len(msgs))
	}
	return nil
}

// SetStatus merges client-supplied presence attributes and announces the
// change to watchers.
func (s OServiceService) SetStatus(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	sess.MergeUserInfo(wire.UnmarshalTLVList(body))
	s.broadcaster.broadcastArrival(ctx, sess)
	return nil
}

// SetExtendedStatus handles the newer status variant the same way.
func (s OServiceService) SetExtendedStatus(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return s.SetStatus(ctx, sess, inFrame, body, rw)
}

// IdleNotification records or clears the idle-seconds attribute.
func (s OServiceService) IdleNotification(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	if len(body) < 4 {
		sess.SetIdleTime(0)
		return nil
	}
	sess.SetIdleTime(binary.BigEndian.Uint32(body[0:4]))
	return nil
}
