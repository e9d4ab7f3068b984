package oscar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artemchik-Development/node-icq-server/foodgroup"
	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

type sentSNAC struct {
	frame wire.SNACFrame
	body  []byte
}

type snacRecorder struct {
	sent []sentSNAC
}

func (r *snacRecorder) SendSNAC(frame wire.SNACFrame, body []byte) error {
	r.sent = append(r.sent, sentSNAC{frame: frame, body: body})
	return nil
}

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter(testLogger())
	var gotFrame wire.SNACFrame
	var gotBody []byte
	r.Register(wire.ICBM, wire.ICBMChannelMsgToHost, func(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) error {
		gotFrame = inFrame
		gotBody = body
		return nil
	})

	in := wire.SNACFrame{FoodGroup: wire.ICBM, SubGroup: wire.ICBMChannelMsgToHost, RequestID: 7}
	r.Route(context.Background(), nil, in, []byte{0x01}, &snacRecorder{})

	assert.Equal(t, in, gotFrame)
	assert.Equal(t, []byte{0x01}, gotBody)
}

func TestRouter_UnknownCommandIgnored(t *testing.T) {
	r := NewRouter(testLogger())
	rw := &snacRecorder{}

	require.NotPanics(t, func() {
		r.Route(context.Background(), nil, wire.SNACFrame{FoodGroup: 0x0045, SubGroup: 0x0002}, nil, rw)
	})
	assert.Empty(t, rw.sent)
}

func TestRouter_PanicContained(t *testing.T) {
	r := NewRouter(testLogger())
	r.Register(wire.Buddy, wire.BuddyRightsQuery, func(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) error {
		panic("boom")
	})
	called := false
	r.Register(wire.Buddy, wire.BuddyAddBuddies, func(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) error {
		called = true
		return nil
	})

	require.NotPanics(t, func() {
		r.Route(context.Background(), nil, wire.SNACFrame{FoodGroup: wire.Buddy, SubGroup: wire.BuddyRightsQuery}, nil, &snacRecorder{})
	})

	// the table stays serviceable after a panic
	r.Route(context.Background(), nil, wire.SNACFrame{FoodGroup: wire.Buddy, SubGroup: wire.BuddyAddBuddies}, nil, &snacRecorder{})
	assert.True(t, called)
}

func TestRouter_HandlerErrorDoesNotPropagate(t *testing.T) {
	r := NewRouter(testLogger())
	r.Register(wire.ICQ, wire.ICQDBQuery, func(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) error {
		return errors.New("db down")
	})

	require.NotPanics(t, func() {
		r.Route(context.Background(), nil, wire.SNACFrame{FoodGroup: wire.ICQ, SubGroup: wire.ICQDBQuery}, nil, &snacRecorder{})
	})
}
