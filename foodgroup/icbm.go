package foodgroup

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// ICBM TLV tags on host-bound messages.
const (
	icbmTLVMessageData  uint16 = 0x0002
	icbmTLVRequestAck   uint16 = 0x0003
	icbmTLVChannelData  uint16 = 0x0005
	icbmTLVStoreOffline uint16 = 0x0006
)

// icbmFeatures is the features fragment sent on every relayed channel-1
// message.
var icbmFeatures = []byte{0x05, 0x01, 0x00, 0x04, 0x01, 0x01, 0x01, 0x02}

var (
	utf16LEDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	win1251Decoder = charmap.Windows1251
)

// ICBMService handles instant messaging (0x04): parameter negotiation,
// relay to online recipients, and store-and-forward for offline ones.
type ICBMService struct {
	sessions        SessionLister
	offlineMessages OfflineMessageManager
	timeNow         timeSource
	logger          *slog.Logger
}

// NewICBMService creates an ICBM handler.
func NewICBMService(sessions SessionLister, offlineMessages OfflineMessageManager, timeNow timeSource, logger *slog.Logger) *ICBMService {
	return &ICBMService{
		sessions:        sessions,
		offlineMessages: offlineMessages,
		timeNow:         timeNow,
		logger:          logger,
	}
}

// icbmParams builds the static channel limits sent in every parameter reply.
func icbmParams() []byte {
	b := &wire.Builder{}
	b.Uint16(0)    // channel
	b.Uint32(0x0B) // flags
	b.Uint16(8000) // max message length
	b.Uint16(999)  // max sender warning
	b.Uint16(999)  // max receiver warning
	b.Uint32(0)    // min message interval
	b.Uint16(0)
	return b.Build()
}

// ParameterQuery returns the static channel limits.
func (s ICBMService) ParameterQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.ICBM,
		SubGroup:  wire.ICBMParameterReply,
		RequestID: inFrame.RequestID,
	}, icbmParams())
}

// AddParameters acknowledges the client's parameter update by echoing the
// host limits. The update itself is not applied.
func (s ICBMService) AddParameters(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.ICBM,
		SubGroup:  wire.ICBMParameterReply,
		RequestID: inFrame.RequestID,
	}, icbmParams())
}

// ChannelMsgToHost relays a message to its recipient, or queues it offline.
func (s ICBMService) ChannelMsgToHost(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	if len(body) < 11 {
		return fmt.Errorf("malformed message from %s", sess.UIN())
	}
	cookie := body[0:8]
	channel := binary.BigEndian.Uint16(body[8:10])
	recipLen := int(body[10])
	if 11+recipLen > len(body) {
		return fmt.Errorf("malformed message from %s", sess.UIN())
	}
	recipient := string(body[11 : 11+recipLen])
	list := wire.UnmarshalTLVList(body[11+recipLen:])

	target := s.sessions.RetrieveSession(recipient)
	if target == nil {
		// no ack for a queued message; only a delivered one is confirmed
		text := decodeMessageText(channel, list)
		if text == "" {
			s.logger.DebugContext(ctx, "dropping undecodable message for offline recipient",
				"sender", sess.UIN(), "recipient", recipient, "channel", channel)
			return nil
		}
		if err := s.offlineMessages.StoreOfflineMessage(ctx, state.OfflineMessage{
			Sender:    sess.UIN(),
			Recipient: recipient,
			Message:   text,
			Sent:      s.timeNow(),
		}); err != nil {
			return fmt.Errorf("store offline message: %w", err)
		}
		return nil
	}

	s.relay(ctx, sess, target, cookie, channel, list)

	if list.HasTag(icbmTLVRequestAck) {
		b := &wire.Builder{}
		b.Bytes(cookie)
		b.Uint16(channel)
		b.Uint8(uint8(len(recipient)))
		b.String(recipient)
		return rw.SendSNAC(wire.SNACFrame{
			FoodGroup: wire.ICBM,
			SubGroup:  wire.ICBMHostAck,
			RequestID: inFrame.RequestID,
		}, b.Build())
	}
	return nil
}

// relay forwards the message with the original content TLVs untouched and
// the sender identity block rebuilt from live presence.
func (s ICBMService) relay(ctx context.Context, sender *state.Session, target *state.Session, cookie []byte, channel uint16, list wire.TLVList) {
	b := &wire.Builder{}
	b.Bytes(cookie)
	b.Uint16(channel)
	b.Bytes(sender.TLVUserInfo().Marshal())
	for _, tlv := range list {
		switch tlv.Tag {
		case icbmTLVRequestAck, icbmTLVStoreOffline:
			// host-bound only
		default:
			b.TLV(tlv)
		}
	}
	msg := wire.SNACMessage{
		Frame: wire.SNACFrame{FoodGroup: wire.ICBM, SubGroup: wire.ICBMChannelMsgToClient},
		Body:  b.Build(),
	}
	if status := target.RelayMessage(msg); status != state.SessSendOK {
		s.logger.DebugContext(ctx, "message relay failed",
			"sender", sender.UIN(), "recipient", target.UIN(), "status", int(status))
	}
}

// decodeMessageText extracts plain text from a host-bound message for offline
// storage. Returns "" when the payload carries nothing storable.
func decodeMessageText(channel uint16, list wire.TLVList) string {
	switch channel {
	case 1:
		data, ok := list.Bytes(icbmTLVMessageData)
		if !ok {
			return ""
		}
		return decodeCh1Fragments(data)
	case 2:
		data, ok := list.Bytes(icbmTLVChannelData)
		if !ok {
			return ""
		}
		return decodeCh2Text(data)
	case 4:
		data, ok := list.Bytes(icbmTLVChannelData)
		if !ok {
			return ""
		}
		return decodeCh4Text(data)
	}
	return ""
}

// decodeCh1Fragments walks the fragment chain of a channel-1 message and
// decodes the message fragment per its charset tag.
func decodeCh1Fragments(b []byte) string {
	pos := 0
	for pos+4 <= len(b) {
		fragID := b[pos]
		length := int(binary.BigEndian.Uint16(b[pos+2 : pos+4]))
		pos += 4
		if pos+length > len(b) {
			break
		}
		if fragID == 0x01 && length >= 4 {
			charset := binary.BigEndian.Uint16(b[pos : pos+2])
			return decodeCharset(charset, b[pos+4:pos+length])
		}
		pos += length
	}
	return ""
}

func decodeCharset(charset uint16, b []byte) string {
	switch charset {
	case 2:
		decoded, err := utf16LEDecoder.NewDecoder().Bytes(b)
		if err != nil {
			return ""
		}
		return string(decoded)
	case 3:
		decoded, err := win1251Decoder.NewDecoder().Bytes(b)
		if err != nil {
			return ""
		}
		return string(decoded)
	default:
		return string(b)
	}
}

// decodeCh2Text pulls the plain text out of a rendezvous payload: the first
// triple-zero marker past the fixed header (> 20 bytes in) starts a run of
// NUL-separated fields, of which the first non-empty one is the message.
func decodeCh2Text(b []byte) string {
	idx := bytes.Index(b, []byte{0x00, 0x00, 0x00})
	if idx <= 20 {
		return ""
	}
	for _, part := range bytes.Split(b[idx:], []byte{0x00}) {
		if text := strippedText(part); text != "" {
			return text
		}
	}
	return ""
}

// decodeCh4Text reads the length-prefixed text field of an old-style URL/auth
// message: the length sits at offset 6, the text at offset 8.
func decodeCh4Text(b []byte) string {
	if len(b) < 8 {
		return ""
	}
	length := int(binary.LittleEndian.Uint16(b[6:8]))
	if 8+length > len(b) {
		return ""
	}
	return strippedText(b[8 : 8+length])
}

// strippedText trims NULs and surrounding whitespace; non-text payloads
// reduce to "".
func strippedText(b []byte) string {
	b = bytes.Trim(b, "\x00 \t\r\n")
	for _, c := range b {
		if c < 0x09 {
			return ""
		}
	}
	return string(b)
}

// NewIncomingICBM builds a channel-1 message frame as delivered to a
// recipient, used for offline replay and system broadcasts.
func NewIncomingICBM(sender wire.TLVUserInfo, text string) wire.SNACMessage {
	cookie := uuid.New()

	msg := &wire.Builder{}
	msg.Bytes(icbmFeatures)
	msg.Uint8(0x01) // message fragment
	msg.Uint8(0x01)
	msg.Uint16(uint16(len(text) + 4))
	msg.Uint32(0) // charset: ASCII/UTF-8
	msg.String(text)

	b := &wire.Builder{}
	b.Bytes(cookie[0:8])
	b.Uint16(1)
	b.Bytes(sender.Marshal())
	b.TLV(wire.NewTLVBytes(icbmTLVMessageData, msg.Build()))
	return wire.SNACMessage{
		Frame: wire.SNACFrame{FoodGroup: wire.ICBM, SubGroup: wire.ICBMChannelMsgToClient},
		Body:  b.Build(),
	}
}
