package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLNTS_RoundTrip(t *testing.T) {
	b := (&LEBuilder{}).LNTS("Alice").LNTS("").LNTS("Bob").Build()

	first, pos := ReadLNTS(b, 0)
	second, pos2 := ReadLNTS(b, pos)
	third, _ := ReadLNTS(b, pos2)

	assert.Equal(t, "Alice", first)
	assert.Equal(t, "", second)
	assert.Equal(t, "Bob", third)
}

func TestReadLNTS_Truncated(t *testing.T) {
	// declares 10 bytes but carries 2
	b := []byte{0x0A, 0x00, 'h', 'i'}
	s, pos := ReadLNTS(b, 0)
	assert.Equal(t, "", s)
	assert.Equal(t, 0, pos)
}

func TestUnmarshalICQMetadata(t *testing.T) {
	payload := (&LEBuilder{}).
		Uint16(14).        // declared length
		Uint32(100500).    // owner UIN
		Uint16(0x07D0).    // meta request
		Uint16(0x0002).    // sequence
		Uint16(0x0569).    // subcommand
		Build()

	md, rest, ok := UnmarshalICQMetadata(payload)
	require.True(t, ok)
	assert.Equal(t, uint32(100500), md.UIN)
	assert.Equal(t, ICQDBQueryMetaReq, md.ReqType)
	assert.Equal(t, uint16(2), md.Seq)
	assert.Equal(t, []byte{0x69, 0x05}, rest)
}

func TestUnmarshalICQMetadata_TooShort(t *testing.T) {
	_, _, ok := UnmarshalICQMetadata([]byte{0x01, 0x02, 0x03})
	assert.False(t, ok)
}

func TestICQMessageReply_Envelope(t *testing.T) {
	md := ICQMetadata{UIN: 100500, ReqType: ICQDBQueryMetaReply, Seq: 2}
	body := ICQMessageReply(md, []byte{0x0A})

	// re-parse the envelope the way an inbound command is parsed
	parsed, rest, ok := UnmarshalICQMetadata(body)
	require.True(t, ok)
	assert.Equal(t, md, parsed)
	assert.Equal(t, []byte{0x0A}, rest)
	assert.Equal(t, uint16(len(body)-2), uint16(body[0])|uint16(body[1])<<8)
}
