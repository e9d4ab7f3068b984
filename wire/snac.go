package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Food groups served by this host.
const (
	OService   uint16 = 0x0001
	Locate     uint16 = 0x0002
	Buddy      uint16 = 0x0003
	ICBM       uint16 = 0x0004
	PermitDeny uint16 = 0x0009
	Feedbag    uint16 = 0x0013
	ICQ        uint16 = 0x0015
	BUCP       uint16 = 0x0017
)

// OService subgroups.
const (
	OServiceErr               uint16 = 0x0001
	OServiceClientOnline      uint16 = 0x0002
	OServiceHostOnline        uint16 = 0x0003
	OServiceServiceRequest    uint16 = 0x0004
	OServiceRateParamsQuery   uint16 = 0x0006
	OServiceRateParamsReply   uint16 = 0x0007
	OServiceRateParamsSubAdd  uint16 = 0x0008
	OServiceSetStatus         uint16 = 0x000E
	OServiceUserInfoUpdate    uint16 = 0x000F
	OServiceIdleNotification  uint16 = 0x0011
	OServiceMOTD              uint16 = 0x0013
	OServiceClientVersions    uint16 = 0x0017
	OServiceHostVersions      uint16 = 0x0018
	OServiceSetExtendedStatus uint16 = 0x001E
)

// Locate subgroups.
const (
	LocateRightsQuery   uint16 = 0x0002
	LocateRightsReply   uint16 = 0x0003
	LocateSetInfo       uint16 = 0x0004
	LocateUserInfoQuery uint16 = 0x0005
	LocateUserInfoReply uint16 = 0x0006
)

// Buddy subgroups.
const (
	BuddyRightsQuery uint16 = 0x0002
	BuddyRightsReply uint16 = 0x0003
	BuddyAddBuddies  uint16 = 0x0004
	BuddyDelBuddies  uint16 = 0x0005
	BuddyArrived     uint16 = 0x000B
	BuddyDeparted    uint16 = 0x000C
)

// ICBM subgroups.
const (
	ICBMAddParameters      uint16 = 0x0002
	ICBMParameterQuery     uint16 = 0x0004
	ICBMParameterReply     uint16 = 0x0005
	ICBMChannelMsgToHost   uint16 = 0x0006
	ICBMChannelMsgToClient uint16 = 0x0007
	ICBMHostAck            uint16 = 0x000C
)

// PermitDeny subgroups.
const (
	PermitDenyRightsQuery uint16 = 0x0002
	PermitDenyRightsReply uint16 = 0x0003
)

// Feedbag (SSI) subgroups.
const (
	FeedbagRightsQuery      uint16 = 0x0002
	FeedbagRightsReply      uint16 = 0x0003
	FeedbagQuery            uint16 = 0x0004
	FeedbagQueryIfModified  uint16 = 0x0005
	FeedbagReply            uint16 = 0x0006
	FeedbagUse              uint16 = 0x0007
	FeedbagInsertItem       uint16 = 0x0008
	FeedbagUpdateItem       uint16 = 0x0009
	FeedbagDeleteItem       uint16 = 0x000A
	FeedbagStatus           uint16 = 0x000E
	FeedbagReplyNotModified uint16 = 0x000F
	FeedbagStartCluster     uint16 = 0x0011
	FeedbagEndCluster       uint16 = 0x0012
)

// ICQ extension subgroups.
const (
	ICQDBQuery uint16 = 0x0002
	ICQDBReply uint16 = 0x0003
)

// BUCP subgroups.
const (
	BUCPLoginRequest      uint16 = 0x0002
	BUCPLoginResponse     uint16 = 0x0003
	BUCPChallengeRequest  uint16 = 0x0006
	BUCPChallengeResponse uint16 = 0x0007
)

// Login TLV tags shared by the channel-1 and BUCP flows.
const (
	LoginTLVTagsScreenName          uint16 = 0x0001
	LoginTLVTagsRoastedPassword     uint16 = 0x0002
	LoginTLVTagsErrorURL            uint16 = 0x0004
	LoginTLVTagsReconnectHere       uint16 = 0x0005
	LoginTLVTagsAuthorizationCookie uint16 = 0x0006
	LoginTLVTagsErrorSubcode        uint16 = 0x0008
	LoginTLVTagsPasswordHash        uint16 = 0x0025
)

// LoginErrInvalidPassword is the error subcode returned for any credential
// mismatch.
const LoginErrInvalidPassword uint16 = 0x0005

// User info TLV tags carried in presence blocks.
const (
	UserInfoClass        uint16 = 0x0001
	UserInfoSignonTOD    uint16 = 0x0003
	UserInfoIdleTime     uint16 = 0x0004
	UserInfoStatus       uint16 = 0x0006
	UserInfoDCInfo       uint16 = 0x000C
	UserInfoCapabilities uint16 = 0x000D
)

// Locate TLV tags.
const (
	LocateTLVTagsInfoSigData         uint16 = 0x0002
	LocateTLVTagsInfoUnavailableData uint16 = 0x0004
	LocateTLVTagsInfoCapabilities    uint16 = 0x0005
)

// LocateQueryFlagAwayMessage is the request flag bit asking for the away
// message in a user info query.
const LocateQueryFlagAwayMessage uint16 = 0x0002

// ErrorCodeServiceUnavailable is returned for service requests this host
// cannot redirect.
const ErrorCodeServiceUnavailable uint16 = 0x0005

// Feedbag item result codes packed into bulk status replies.
const (
	FeedbagStatusCodeOK     uint16 = 0x0000
	FeedbagStatusCodeDBFail uint16 = 0x000A
)

// SNACFrame is the 10-byte command header carried inside channel-2 frames.
type SNACFrame struct {
	FoodGroup uint16
	SubGroup  uint16
	Flags     uint16
	RequestID uint32
}

// Marshal prepends the header to body and returns the full SNAC payload.
func (f SNACFrame) Marshal(body []byte) []byte {
	b := make([]byte, 10+len(body))
	binary.BigEndian.PutUint16(b[0:2], f.FoodGroup)
	binary.BigEndian.PutUint16(b[2:4], f.SubGroup)
	binary.BigEndian.PutUint16(b[4:6], f.Flags)
	binary.BigEndian.PutUint32(b[6:10], f.RequestID)
	copy(b[10:], body)
	return b
}

// UnmarshalSNACFrame splits a channel-2 payload into header and body.
func UnmarshalSNACFrame(b []byte) (SNACFrame, []byte, bool) {
	if len(b) < 10 {
		return SNACFrame{}, nil, false
	}
	return SNACFrame{
		FoodGroup: binary.BigEndian.Uint16(b[0:2]),
		SubGroup:  binary.BigEndian.Uint16(b[2:4]),
		Flags:     binary.BigEndian.Uint16(b[4:6]),
		RequestID: binary.BigEndian.Uint32(b[6:10]),
	}, b[10:], true
}

// SNACMessage pairs a command header with its marshaled body for relay
// between sessions and for replies to the client.
type SNACMessage struct {
	Frame SNACFrame
	Body  []byte
}

// Builder accumulates big-endian wire data.
type Builder struct {
	buf bytes.Buffer
}

func (b *Builder) Uint8(v uint8) *Builder {
	b.buf.WriteByte(v)
	return b
}

func (b *Builder) Uint16(v uint16) *Builder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *Builder) Uint32(v uint32) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *Builder) Bytes(p []byte) *Builder {
	b.buf.Write(p)
	return b
}

func (b *Builder) String(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// TLV appends one encoded TLV.
func (b *Builder) TLV(t TLV) *Builder {
	b.Uint16(t.Tag)
	b.Uint16(uint16(len(t.Value)))
	b.buf.Write(t.Value)
	return b
}

// TLVList appends every TLV in the list.
func (b *Builder) TLVList(list TLVList) *Builder {
	for _, t := range list {
		b.TLV(t)
	}
	return b
}

func (b *Builder) Build() []byte {
	return b.buf.Bytes()
}

var foodGroupNames = map[uint16]string{
	OService:   "OService",
	Locate:     "Locate",
	Buddy:      "Buddy",
	ICBM:       "ICBM",
	PermitDeny: "PermitDeny",
	Feedbag:    "Feedbag",
	ICQ:        "ICQ",
	BUCP:       "BUCP",
}

// FoodGroupName returns a human-readable food group name for logging.
func FoodGroupName(foodGroup uint16) string {
	if name, ok := foodGroupNames[foodGroup]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", foodGroup)
}
