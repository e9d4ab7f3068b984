package state

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/Artemchik-Development/node-icq-server/wire"
)

// SessSendStatus is the result of relaying a message to a session.
type SessSendStatus int

const (
	// SessSendOK: the message was queued for delivery.
	SessSendOK SessSendStatus = iota
	// SessSendClosed: the session is closed and cannot receive.
	SessSendClosed
	// SessQueueFull: the session's delivery buffer overflowed.
	SessQueueFull
)

// capSrvRelay and capUTF8 are the capability GUIDs advertised for every
// online user.
var (
	capSrvRelay = []byte{
		0x09, 0x46, 0x13, 0x49, 0x4C, 0x7F, 0x11, 0xD1,
		0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00,
	}
	capUTF8 = []byte{
		0x09, 0x46, 0x13, 0x4E, 0x4C, 0x7F, 0x11, 0xD1,
		0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00,
	}
)

// defaultDCInfo builds the 37-byte direct connection info blob legacy clients
// expect in every presence block. Points at loopback with DC disabled.
func defaultDCInfo() []byte {
	b := make([]byte, 37)
	binary.BigEndian.PutUint32(b[0:4], 0x7F000001)
	b[8] = 0x04
	binary.BigEndian.PutUint16(b[9:11], 0x000A)
	return b
}

// Session represents one signed-on user: presence attributes, the set of
// buddies being watched, and the delivery channel the owning connection
// goroutine drains.
type Session struct {
	uin string

	mu         sync.RWMutex
	status     uint16
	profile    string
	awayMsg    string
	hasProfile bool
	hasAway    bool
	userInfo   wire.TLVList
	watch      map[string]struct{}

	msgCh    chan wire.SNACMessage
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSession creates a session for the given UIN with an empty presence
// block. SetDefaults populates it at sign-on.
func NewSession(uin string) *Session {
	return &Session{
		uin:    uin,
		watch:  make(map[string]struct{}),
		msgCh:  make(chan wire.SNACMessage, 1000),
		stopCh: make(chan struct{}),
	}
}

// UIN returns the account identifier this session belongs to.
func (s *Session) UIN() string {
	return s.uin
}

// SetDefaults installs the initial presence attributes every freshly
// signed-on user carries.
func (s *Session) SetDefaults(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = 0
	s.userInfo = wire.TLVList{
		wire.NewTLVUint16(wire.UserInfoClass, 0x0040),
		wire.NewTLVBytes(wire.UserInfoStatus, []byte{0x00, 0x00, 0x00, 0x00}),
		wire.NewTLVUint32(wire.UserInfoSignonTOD, uint32(now.Unix())),
		wire.NewTLVBytes(wire.UserInfoCapabilities, append(append([]byte(nil), capSrvRelay...), capUTF8...)),
		wire.NewTLVBytes(wire.UserInfoDCInfo, defaultDCInfo()),
	}
}

// MergeUserInfo folds client-supplied presence attributes into the session,
// overwriting same-tag attributes in place.
func (s *Session) MergeUserInfo(list wire.TLVList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tlv := range list {
		s.userInfo.Replace(tlv)
		if tlv.Tag == wire.UserInfoStatus && len(tlv.Value) >= 4 {
			s.status = binary.BigEndian.Uint16(tlv.Value[2:4])
		}
	}
}

// Status returns the low word of the user's online status.
func (s *Session) Status() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetIdleTime records idle seconds in the presence block. Zero clears the
// attribute, marking the user active.
func (s *Session) SetIdleTime(seconds uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seconds == 0 {
		s.userInfo.Delete(wire.UserInfoIdleTime)
		return
	}
	s.userInfo.Replace(wire.NewTLVUint32(wire.UserInfoIdleTime, seconds))
}

// SetProfile stores the user's profile text.
func (s *Session) SetProfile(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = text
	s.hasProfile = true
}

// Profile returns the stored profile text.
func (s *Session) Profile() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, s.hasProfile
}

// SetAwayMessage stores the user's away message. An empty string clears it.
func (s *Session) SetAwayMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awayMsg = text
	s.hasAway = text != ""
}

// AwayMessage returns the stored away message.
func (s *Session) AwayMessage() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.awayMsg, s.hasAway
}

// Watch adds UINs to this session's watch set.
func (s *Session) Watch(uins ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uin := range uins {
		s.watch[uin] = struct{}{}
	}
}

// Unwatch removes UINs from the watch set.
func (s *Session) Unwatch(uins ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uin := range uins {
		delete(s.watch, uin)
	}
}

// Watches reports whether this session is watching uin.
func (s *Session) Watches(uin string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.watch[uin]
	return ok
}

// SetWatchList replaces the watch set wholesale, used when the roster is
// reloaded from storage.
func (s *Session) SetWatchList(uins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watch = make(map[string]struct{}, len(uins))
	for _, uin := range uins {
		s.watch[uin] = struct{}{}
	}
}

// TLVUserInfo returns a presence block snapshot for fan-out and user info
// replies.
func (s *Session) TLVUserInfo() wire.TLVUserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return wire.TLVUserInfo{
		ScreenName: s.uin,
		TLVList:    append(wire.TLVList(nil), s.userInfo...),
	}
}

// RelayMessage queues a message for delivery to this session's connection.
func (s *Session) RelayMessage(msg wire.SNACMessage) SessSendStatus {
	select {
	case <-s.stopCh:
		return SessSendClosed
	default:
	}
	select {
	case s.msgCh <- msg:
		return SessSendOK
	case <-s.stopCh:
		return SessSendClosed
	default:
		return SessQueueFull
	}
}

// ReceiveMessage exposes the delivery channel drained by the connection
// goroutine.
func (s *Session) ReceiveMessage() <-chan wire.SNACMessage {
	return s.msgCh
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Closed signals session teardown to the connection goroutine.
func (s *Session) Closed() <-chan struct{} {
	return s.stopCh
}
