package foodgroup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

func ch1MessageTLV(charset uint16, text []byte) wire.TLV {
	b := &wire.Builder{}
	b.Bytes(icbmFeatures)
	b.Uint8(0x01)
	b.Uint8(0x01)
	b.Uint16(uint16(len(text) + 4))
	b.Uint16(charset)
	b.Uint16(0)
	b.Bytes(text)
	return wire.NewTLVBytes(icbmTLVMessageData, b.Build())
}

func hostBoundMsg(recipient string, channel uint16, tlvs ...wire.TLV) []byte {
	b := &wire.Builder{}
	b.Bytes([]byte{1, 2, 3, 4, 5, 6, 7, 8}) // cookie
	b.Uint16(channel)
	b.Uint8(uint8(len(recipient)))
	b.String(recipient)
	b.TLVList(tlvs)
	return b.Build()
}

func testICBMService(t *testing.T) (*ICBMService, *fakeOfflineStore, *state.InMemorySessionManager) {
	t.Helper()
	offline := &fakeOfflineStore{}
	sessions := state.NewInMemorySessionManager(testLogger())
	return NewICBMService(sessions, offline, fixedTime, testLogger()), offline, sessions
}

func TestICBMService_RelayToOnlineRecipient(t *testing.T) {
	svc, offline, sessions := testICBMService(t)
	sender := sessions.AddSession("100500")
	sender.SetDefaults(time.Now())
	recipient := sessions.AddSession("100501")

	body := hostBoundMsg("100501", 1,
		ch1MessageTLV(0, []byte("hello")),
		wire.NewTLVEmpty(icbmTLVStoreOffline),
	)
	require.NoError(t, svc.ChannelMsgToHost(context.Background(), sender, wire.SNACFrame{}, body, &responseRecorder{}))

	got := drainSession(recipient)
	require.Len(t, got, 1)
	assert.Equal(t, wire.ICBMChannelMsgToClient, got[0].Frame.SubGroup)
	// original cookie and channel survive the relay
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got[0].Body[0:8])
	assert.Empty(t, offline.msgs)

	// message data TLV passed through verbatim after the sender info block
	relayedTLVs := wire.UnmarshalTLVList(got[0].Body[10+len(sender.TLVUserInfo().Marshal()):])
	assert.True(t, relayedTLVs.HasTag(icbmTLVMessageData))
	assert.False(t, relayedTLVs.HasTag(icbmTLVStoreOffline))
}

func TestICBMService_AckOnlyWhenRequested(t *testing.T) {
	svc, _, sessions := testICBMService(t)
	sender := sessions.AddSession("100500")
	sender.SetDefaults(time.Now())
	sessions.AddSession("100501")

	t.Run("ack requested", func(t *testing.T) {
		rw := &responseRecorder{}
		body := hostBoundMsg("100501", 1,
			ch1MessageTLV(0, []byte("hi")),
			wire.NewTLVEmpty(icbmTLVRequestAck),
		)
		require.NoError(t, svc.ChannelMsgToHost(context.Background(), sender, wire.SNACFrame{RequestID: 5}, body, rw))

		acks := rw.bySubGroup(wire.ICBM, wire.ICBMHostAck)
		require.Len(t, acks, 1)
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, acks[0].Body[0:8])
	})

	t.Run("no ack TLV", func(t *testing.T) {
		rw := &responseRecorder{}
		body := hostBoundMsg("100501", 1, ch1MessageTLV(0, []byte("hi")))
		require.NoError(t, svc.ChannelMsgToHost(context.Background(), sender, wire.SNACFrame{}, body, rw))
		assert.Empty(t, rw.bySubGroup(wire.ICBM, wire.ICBMHostAck))
	})
}

func TestICBMService_NoAckForQueuedMessage(t *testing.T) {
	svc, offline, sessions := testICBMService(t)
	sender := sessions.AddSession("100500")
	sender.SetDefaults(time.Now())

	rw := &responseRecorder{}
	body := hostBoundMsg("999999", 1,
		ch1MessageTLV(0, []byte("anyone home?")),
		wire.NewTLVEmpty(icbmTLVRequestAck),
	)
	require.NoError(t, svc.ChannelMsgToHost(context.Background(), sender, wire.SNACFrame{RequestID: 3}, body, rw))

	// queued, not delivered, so no delivery confirmation goes out
	require.Len(t, offline.msgs, 1)
	assert.Equal(t, "anyone home?", offline.msgs[0].Message)
	assert.Empty(t, rw.bySubGroup(wire.ICBM, wire.ICBMHostAck))
}

func TestICBMService_OfflineRecipientQueuesText(t *testing.T) {
	svc, offline, sessions := testICBMService(t)
	sender := sessions.AddSession("100500")
	sender.SetDefaults(time.Now())

	body := hostBoundMsg("999999", 1, ch1MessageTLV(0, []byte("see you later")))
	require.NoError(t, svc.ChannelMsgToHost(context.Background(), sender, wire.SNACFrame{}, body, &responseRecorder{}))

	require.Len(t, offline.msgs, 1)
	assert.Equal(t, "100500", offline.msgs[0].Sender)
	assert.Equal(t, "999999", offline.msgs[0].Recipient)
	assert.Equal(t, "see you later", offline.msgs[0].Message)
	assert.Equal(t, fixedTime(), offline.msgs[0].Sent)
}

func TestICBMService_ParameterReplies(t *testing.T) {
	svc, _, _ := testICBMService(t)

	queryRW := &responseRecorder{}
	require.NoError(t, svc.ParameterQuery(context.Background(), nil, wire.SNACFrame{RequestID: 1}, nil, queryRW))
	replies := queryRW.bySubGroup(wire.ICBM, wire.ICBMParameterReply)
	require.Len(t, replies, 1)

	// a parameter update is acknowledged with the same host limits
	addRW := &responseRecorder{}
	require.NoError(t, svc.AddParameters(context.Background(), nil, wire.SNACFrame{RequestID: 2}, nil, addRW))
	acks := addRW.bySubGroup(wire.ICBM, wire.ICBMParameterReply)
	require.Len(t, acks, 1)
	assert.Equal(t, replies[0].Body, acks[0].Body)
}

func TestICBMService_OfflineUndecodableDropped(t *testing.T) {
	svc, offline, sessions := testICBMService(t)
	sender := sessions.AddSession("100500")

	// channel-1 message with no message fragment at all
	body := hostBoundMsg("999999", 1, wire.NewTLVBytes(icbmTLVMessageData, []byte{0x05, 0x01, 0x00, 0x01, 0x00}))
	require.NoError(t, svc.ChannelMsgToHost(context.Background(), sender, wire.SNACFrame{}, body, &responseRecorder{}))

	assert.Empty(t, offline.msgs)
}

func TestDecodeCharset(t *testing.T) {
	tests := []struct {
		name    string
		charset uint16
		in      []byte
		want    string
	}{
		{name: "utf8", charset: 0, in: []byte("привет"), want: "привет"},
		{name: "utf16le", charset: 2, in: []byte{'h', 0x00, 'i', 0x00}, want: "hi"},
		{name: "windows-1251", charset: 3, in: []byte{0xCF, 0xF0, 0xE8}, want: "При"},
		{name: "unknown falls back to utf8", charset: 9, in: []byte("plain"), want: "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeCharset(tt.charset, tt.in))
		})
	}
}

func TestDecodeMessageText_Channels(t *testing.T) {
	t.Run("channel 2 marker past the header", func(t *testing.T) {
		payload := make([]byte, 21) // cookie + caps header, opaque here
		for i := range payload {
			payload[i] = 0xAA
		}
		payload = append(payload, 0x00, 0x00, 0x00)
		payload = append(payload, []byte("rendezvous text")...)
		list := wire.TLVList{wire.NewTLVBytes(icbmTLVChannelData, payload)}
		assert.Equal(t, "rendezvous text", decodeMessageText(2, list))
	})

	t.Run("channel 2 text with trailing zeroed fields", func(t *testing.T) {
		payload := make([]byte, 21)
		for i := range payload {
			payload[i] = 0xAA
		}
		payload = append(payload, 0x00, 0x00, 0x00)
		payload = append(payload, []byte("hello")...)
		payload = append(payload, 0x00, 0x00, 0x00, 0x00, 0x01)
		list := wire.TLVList{wire.NewTLVBytes(icbmTLVChannelData, payload)}
		assert.Equal(t, "hello", decodeMessageText(2, list))
	})

	t.Run("channel 2 marker inside the header is not text", func(t *testing.T) {
		payload := append([]byte{0xAA, 0xBB, 0x00, 0x00, 0x00}, []byte("not a message")...)
		list := wire.TLVList{wire.NewTLVBytes(icbmTLVChannelData, payload)}
		assert.Equal(t, "", decodeMessageText(2, list))
	})

	t.Run("channel 4 length-prefixed at fixed offset", func(t *testing.T) {
		b := &wire.LEBuilder{}
		b.Uint32(100500) // sender uin
		b.Uint8(0x01)    // message type
		b.Uint8(0x00)
		b.Uint16(4)
		b.Bytes([]byte("old\x00"))
		list := wire.TLVList{wire.NewTLVBytes(icbmTLVChannelData, b.Build())}
		assert.Equal(t, "old", decodeMessageText(4, list))
	})

	t.Run("unknown channel", func(t *testing.T) {
		assert.Equal(t, "", decodeMessageText(7, wire.TLVList{}))
	})
}

func TestNewIncomingICBM(t *testing.T) {
	msg := NewIncomingICBM(wire.TLVUserInfo{ScreenName: "100501"}, "stored while away")

	assert.Equal(t, wire.ICBM, msg.Frame.FoodGroup)
	assert.Equal(t, wire.ICBMChannelMsgToClient, msg.Frame.SubGroup)

	require.Greater(t, len(msg.Body), 10)
	// channel 1 follows the 8-byte cookie
	assert.Equal(t, []byte{0x00, 0x01}, msg.Body[8:10])

	infoLen := len(wire.TLVUserInfo{ScreenName: "100501"}.Marshal())
	list := wire.UnmarshalTLVList(msg.Body[10+infoLen:])
	data, ok := list.Bytes(icbmTLVMessageData)
	require.True(t, ok)
	assert.Equal(t, "stored while away", decodeCh1Fragments(data))
}
