package wire

import (
	"bytes"
	"encoding/binary"
)

// ICQ extension command codes carried in the little-endian inner header.
const (
	ICQDBQueryOfflineMsgReq      uint16 = 0x003C
	ICQDBQueryOfflineMsgAck      uint16 = 0x003E
	ICQDBQueryOfflineMsgReplyEnd uint16 = 0x0042
	ICQDBQueryMetaReq            uint16 = 0x07D0
	ICQDBQueryMetaReply          uint16 = 0x07DA
)

// ICQ meta request subcommands.
const (
	ICQMetaReqSearchByUIN     uint16 = 0x0569
	ICQMetaReqSearchByDetails uint16 = 0x055F
	ICQMetaReqSearchByEmail   uint16 = 0x0573
	ICQMetaReqShortInfo       uint16 = 0x04BA
	ICQMetaReqBasicInfo       uint16 = 0x04B2
	ICQMetaReqFullInfo        uint16 = 0x051F
	ICQMetaReqSetBasicInfo    uint16 = 0x0C3A
	ICQMetaReqSetMoreInfo     uint16 = 0x0D0E
)

// ICQ meta reply subcommands.
const (
	ICQMetaReplyBasicInfo     uint16 = 0x00FB
	ICQMetaReplyShortInfo     uint16 = 0x0104
	ICQMetaReplyUserFound     uint16 = 0x01A4
	ICQMetaReplyLastUserFound uint16 = 0x01AE
	ICQMetaReplySetInfoAck    uint16 = 0x0C3F
)

// ICQ reply status codes.
const (
	ICQStatusCodeOK   uint8 = 0x0A
	ICQStatusCodeFail uint8 = 0x32
)

// ICQMetadata is the 8-byte little-endian header that follows the declared
// length inside the outer TLV of every ICQ extension command.
type ICQMetadata struct {
	UIN     uint32
	ReqType uint16
	Seq     uint16
}

// UnmarshalICQMetadata parses the inner payload of an ICQ extension TLV:
// declared length, owner UIN, command code, sequence number, command data.
func UnmarshalICQMetadata(b []byte) (ICQMetadata, []byte, bool) {
	if len(b) < 10 {
		return ICQMetadata{}, nil, false
	}
	md := ICQMetadata{
		UIN:     binary.LittleEndian.Uint32(b[2:6]),
		ReqType: binary.LittleEndian.Uint16(b[6:8]),
		Seq:     binary.LittleEndian.Uint16(b[8:10]),
	}
	return md, b[10:], true
}

// LEBuilder accumulates little-endian wire data for ICQ extension payloads.
type LEBuilder struct {
	buf bytes.Buffer
}

func (b *LEBuilder) Uint8(v uint8) *LEBuilder {
	b.buf.WriteByte(v)
	return b
}

func (b *LEBuilder) Uint16(v uint16) *LEBuilder {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *LEBuilder) Uint32(v uint32) *LEBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *LEBuilder) Bytes(p []byte) *LEBuilder {
	b.buf.Write(p)
	return b
}

// LNTS appends a little-endian length-prefixed, NUL-terminated string.
func (b *LEBuilder) LNTS(s string) *LEBuilder {
	b.Uint16(uint16(len(s) + 1))
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

func (b *LEBuilder) Build() []byte {
	return b.buf.Bytes()
}

// ReadLNTS reads a length-prefixed NUL-terminated string at offset. Returns
// the string without its terminator and the offset just past the field. A
// truncated field yields an empty string and the unchanged offset.
func ReadLNTS(b []byte, offset int) (string, int) {
	if offset+2 > len(b) {
		return "", offset
	}
	length := int(binary.LittleEndian.Uint16(b[offset : offset+2]))
	if length <= 1 {
		return "", offset + 2 + length
	}
	if offset+2+length > len(b) {
		return "", offset
	}
	return string(b[offset+2 : offset+2+length-1]), offset + 2 + length
}

// ICQMessageReply builds the outer TLV payload for an ICQ extension reply:
// declared length, owner UIN, command code, sequence, then the command
// payload. Meta replies additionally carry a reply subcommand, which callers
// fold into payload.
func ICQMessageReply(md ICQMetadata, payload []byte) []byte {
	inner := &LEBuilder{}
	inner.Uint32(md.UIN)
	inner.Uint16(md.ReqType)
	inner.Uint16(md.Seq)
	inner.Bytes(payload)
	body := inner.Build()

	out := &LEBuilder{}
	out.Uint16(uint16(len(body)))
	out.Bytes(body)
	return out.Build()
}
