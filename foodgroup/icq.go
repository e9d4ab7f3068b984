package foodgroup

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// icqTLVExtension is the outer TLV wrapping every ICQ extension command.
const icqTLVExtension uint16 = 0x0001

// ICQService handles the ICQ extension food group (0x15): offline message
// flush and the legacy meta search/info sub-protocol.
type ICQService struct {
	finder          UserFinder
	offlineMessages OfflineMessageManager
	logger          *slog.Logger
}

// NewICQService creates an ICQ extension handler.
func NewICQService(finder UserFinder, offlineMessages OfflineMessageManager, logger *slog.Logger) *ICQService {
	return &ICQService{
		finder:          finder,
		offlineMessages: offlineMessages,
		logger:          logger,
	}
}

// DBQuery dispatches an ICQ extension command from its little-endian inner
// header.
func (s ICQService) DBQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	list := wire.UnmarshalTLVList(body)
	ext, ok := list.Bytes(icqTLVExtension)
	if !ok {
		return nil
	}
	md, data, ok := wire.UnmarshalICQMetadata(ext)
	if !ok {
		return nil
	}
	s.logger.DebugContext(ctx, "icq command",
		"uin", sess.UIN(), "cmd", fmt.Sprintf("%#04x", md.ReqType), "seq", md.Seq)

	switch md.ReqType {
	case wire.ICQDBQueryOfflineMsgReq:
		return s.flushOfflineMessages(ctx, sess, inFrame, md, rw)
	case wire.ICQDBQueryOfflineMsgAck:
		return nil
	case wire.ICQDBQueryMetaReq:
		if len(data) < 2 {
			return nil
		}
		subCmd := binary.LittleEndian.Uint16(data[0:2])
		return s.metaRequest(ctx, sess, inFrame, md, subCmd, data[2:], rw)
	}
	s.logger.DebugContext(ctx, "unhandled icq command",
		"uin", sess.UIN(), "cmd", fmt.Sprintf("%#04x", md.ReqType))
	return nil
}

// flushOfflineMessages replays the queue through the messaging path, then
// terminates the flush with the end-of-queue marker.
func (s ICQService) flushOfflineMessages(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, md wire.ICQMetadata, rw ResponseWriter) error {
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
	md.ReqType = wire.ICQDBQueryOfflineMsgReplyEnd
	return s.sendReply(inFrame, md, nil, rw)
}

func (s ICQService) metaRequest(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, md wire.ICQMetadata, subCmd uint16, data []byte, rw ResponseWriter) error {
	switch subCmd {
	case wire.ICQMetaReqSearchByUIN:
		uin := parseSearchUIN(data)
		var users []state.User
		if uin != "" {
			var err error
			if users, err = s.finder.FindByUIN(ctx, uin); err != nil {
				return fmt.Errorf("search by uin: %w", err)
			}
		}
		return s.sendSearchResults(inFrame, md, users, rw)

	case wire.ICQMetaReqSearchByDetails:
		firstName, pos := wire.ReadLNTS(data, 0)
		lastName, pos := wire.ReadLNTS(data, pos)
		nickname, pos := wire.ReadLNTS(data, pos)
		email, _ := wire.ReadLNTS(data, pos)
		users, err := s.finder.FindByDetails(ctx, nickname, firstName, lastName, email)
		if err != nil {
			return fmt.Errorf("search by details: %w", err)
		}
		return s.sendSearchResults(inFrame, md, users, rw)

	case wire.ICQMetaReqSearchByEmail:
		email, _ := wire.ReadLNTS(data, 0)
		users, err := s.finder.FindByDetails(ctx, "", "", "", email)
		if err != nil {
			return fmt.Errorf("search by email: %w", err)
		}
		return s.sendSearchResults(inFrame, md, users, rw)

	case wire.ICQMetaReqShortInfo, wire.ICQMetaReqBasicInfo, wire.ICQMetaReqFullInfo:
		return s.sendUserInfo(ctx, sess, inFrame, md, subCmd, data, rw)

	case wire.ICQMetaReqSetBasicInfo, wire.ICQMetaReqSetMoreInfo:
		// accepted, not persisted
		return s.sendMetaReply(inFrame, md, wire.ICQMetaReplySetInfoAck, []byte{wire.ICQStatusCodeOK}, rw)
	}
	s.logger.DebugContext(ctx, "unhandled icq meta subcommand",
		"uin", sess.UIN(), "subcmd", fmt.Sprintf("%#04x", subCmd))
	return nil
}

// sendSearchResults emits one reply per match, tagging every reply but the
// last as "more results follow". Zero matches produce a single not-found
// reply.
func (s ICQService) sendSearchResults(inFrame wire.SNACFrame, md wire.ICQMetadata, users []state.User, rw ResponseWriter) error {
	if len(users) == 0 {
		return s.sendMetaReply(inFrame, md, wire.ICQMetaReplyLastUserFound,
			[]byte{wire.ICQStatusCodeFail, 0x00, 0x00}, rw)
	}
	for i, u := range users {
		subType := wire.ICQMetaReplyUserFound
		if i == len(users)-1 {
			subType = wire.ICQMetaReplyLastUserFound
		}
		uin, _ := strconv.ParseUint(u.UIN, 10, 32)
		b := &wire.LEBuilder{}
		b.Uint8(wire.ICQStatusCodeOK)
		b.Uint32(uint32(uin))
		b.LNTS(u.Nickname)
		b.LNTS(u.FirstName)
		b.LNTS(u.LastName)
		b.LNTS(u.Email)
		b.Uint8(0)  // authorization required
		b.Uint16(0) // online status
		b.Uint8(u.Gender)
		b.Uint16(u.Age)
		if err := s.sendMetaReply(inFrame, md, subType, b.Build(), rw); err != nil {
			return err
		}
	}
	return nil
}

// sendUserInfo answers an info fetch for the target UIN, defaulting to the
// requester when none is given. Unknown targets get a placeholder record, not
// an error, since clients block on the reply.
func (s ICQService) sendUserInfo(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, md wire.ICQMetadata, subCmd uint16, data []byte, rw ResponseWriter) error {
	targetUIN := sess.UIN()
	if len(data) >= 4 {
		if v := binary.LittleEndian.Uint32(data[0:4]); v > 0 {
			targetUIN = strconv.FormatUint(uint64(v), 10)
		}
	}
	users, err := s.finder.FindByUIN(ctx, targetUIN)
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}

	replyType := wire.ICQMetaReplyBasicInfo
	if subCmd == wire.ICQMetaReqShortInfo {
		replyType = wire.ICQMetaReplyShortInfo
	}

	u := state.User{Nickname: "Unknown"}
	if len(users) > 0 {
		u = users[0]
	}
	b := &wire.LEBuilder{}
	b.Uint8(wire.ICQStatusCodeOK)
	b.LNTS(u.Nickname)
	b.LNTS(u.FirstName)
	b.LNTS(u.LastName)
	b.LNTS(u.Email)
	b.Bytes([]byte{0x00, 0x00, 0x00})
	return s.sendMetaReply(inFrame, md, replyType, b.Build(), rw)
}

func (s ICQService) sendMetaReply(inFrame wire.SNACFrame, md wire.ICQMetadata, subType uint16, payload []byte, rw ResponseWriter) error {
	md.ReqType = wire.ICQDBQueryMetaReply
	b := &wire.LEBuilder{}
	b.Uint16(subType)
	b.Bytes(payload)
	return s.sendReply(inFrame, md, b.Build(), rw)
}

func (s ICQService) sendReply(inFrame wire.SNACFrame, md wire.ICQMetadata, payload []byte, rw ResponseWriter) error {
	reply := wire.TLVList{
		wire.NewTLVBytes(icqTLVExtension, wire.ICQMessageReply(md, payload)),
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.ICQ,
		SubGroup:  wire.ICQDBReply,
		RequestID: inFrame.RequestID,
	}, reply.Marshal())
}

// parseSearchUIN extracts the target UIN from a search payload. Divergent
// legacy clients encode it three ways; the trial order is a compatibility
// requirement and must not change.
func parseSearchUIN(data []byte) string {
	// standard: length-prefixed numeric string
	if len(data) >= 3 {
		if s, _ := wire.ReadLNTS(data, 0); isDigits(s) {
			return s
		}
	}
	// old clients: raw little-endian dword, distinguished from a length
	// prefix by an implausible leading u16
	if len(data) >= 4 {
		v := binary.LittleEndian.Uint32(data[0:4])
		if v > 0 && v < 1000000000 {
			if lead := binary.LittleEndian.Uint16(data[0:2]); lead > 20 || lead == 0 {
				return strconv.FormatUint(uint64(v), 10)
			}
		}
	}
	// bare numeric string with NUL/whitespace padding
	if len(data) >= 1 {
		raw := string(bytes.TrimSpace(bytes.ReplaceAll(data, []byte{0}, nil)))
		if isDigits(raw) {
			return raw
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
