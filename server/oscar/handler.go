package oscar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Artemchik-Development/node-icq-server/foodgroup"
	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// authDeadline bounds how long an unauthenticated connection may sit between
// frames before we give up on it.
const authDeadline = 30 * time.Second

// maxAuthFrames caps the frames an unauthenticated peer may send. A login
// conversation fits well within this.
const maxAuthFrames = 10

// AuthHandler performs credential checks and BOS session registration.
type AuthHandler interface {
	Login(ctx context.Context, list wire.TLVList) (wire.TLVList, error)
	BUCPChallenge(ctx context.Context, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) error
	BUCPLogin(ctx context.Context, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) (bool, error)
	RegisterBOSSession(ctx context.Context, cookie []byte) (*state.Session, error)
	Signout(ctx context.Context, sess *state.Session)
}

// OnlineNotifier supplies the frames pushed to a client right after its BOS
// session is established.
type OnlineNotifier interface {
	HostOnline() wire.SNACMessage
	SignonMOTD() wire.SNACMessage
}

// Handler drives one OSCAR conversation from hello to teardown. The same
// handler serves both listeners: the first client frame decides whether the
// connection is a login attempt or a cookie-bearing BOS handoff.
type Handler struct {
	auth        AuthHandler
	online      OnlineNotifier
	router      *Router
	rateLimiter *IPRateLimiter
	logger      *slog.Logger
}

// NewHandler wires a connection handler.
func NewHandler(auth AuthHandler, online OnlineNotifier, router *Router, rateLimiter *IPRateLimiter, logger *slog.Logger) *Handler {
	return &Handler{
		auth:        auth,
		online:      online,
		router:      router,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// HandleConnection speaks the server side of the FLAP handshake and routes
// the connection to the login or BOS path.
func (h *Handler) HandleConnection(ctx context.Context, conn net.Conn) {
	flapc := wire.NewFlapClient(100, conn)
	if err := flapc.SendSignonFrame(); err != nil {
		h.logger.DebugContext(ctx, "send hello", "err", err.Error())
		return
	}

	reader := newFrameReader(conn)
	conn.SetReadDeadline(time.Now().Add(authDeadline))
	frame, err := reader.Next()
	if err != nil {
		// port scanners and monitoring probes land here
		h.logger.DebugContext(ctx, "connection closed before signon", "remote", conn.RemoteAddr())
		return
	}
	if frame.FrameType != wire.FLAPFrameSignon {
		h.logger.DebugContext(ctx, "expected signon frame", "remote", conn.RemoteAddr(), "frame", frame.FrameType)
		return
	}

	var list wire.TLVList
	if len(frame.Payload) > len(wire.FLAPSignonVersion) {
		list = wire.UnmarshalTLVList(frame.Payload[len(wire.FLAPSignonVersion):])
	}

	switch {
	case list.HasTag(wire.LoginTLVTagsAuthorizationCookie):
		cookie, _ := list.Bytes(wire.LoginTLVTagsAuthorizationCookie)
		conn.SetReadDeadline(time.Time{})
		h.serveBOS(ctx, conn, flapc, reader, cookie)
	case list.HasTag(wire.LoginTLVTagsScreenName):
		h.flapLogin(ctx, conn, flapc, list)
	default:
		// a bare hello means the client wants the SNAC login flow
		h.serveBUCP(ctx, conn, flapc, reader)
	}
}

// flapLogin handles the channel-1 login variant: credentials arrive in the
// signon TLVs and the verdict goes back in a signoff frame.
func (h *Handler) flapLogin(ctx context.Context, conn net.Conn, flapc *wire.FlapClient, list wire.TLVList) {
	if !h.allow(ctx, conn) {
		flapc.Signoff(nil)
		return
	}
	reply, err := h.auth.Login(ctx, list)
	if err != nil {
		h.logger.ErrorContext(ctx, "login", "err", err.Error())
		flapc.Signoff(nil)
		return
	}
	if err := flapc.Signoff(reply.Marshal()); err != nil {
		h.logger.DebugContext(ctx, "send login verdict", "err", err.Error())
	}
}

// serveBUCP runs the SNAC login conversation: challenge request, then the
// hashed login. The frame budget keeps a stuck client from pinning the
// connection.
func (h *Handler) serveBUCP(ctx context.Context, conn net.Conn, flapc *wire.FlapClient, reader *frameReader) {
	for i := 0; i < maxAuthFrames; i++ {
		conn.SetReadDeadline(time.Now().Add(authDeadline))
		frame, err := reader.Next()
		if err != nil {
			return
		}
		switch frame.FrameType {
		case wire.FLAPFrameSignoff:
			return
		case wire.FLAPFrameKeepAlive:
			continue
		case wire.FLAPFrameData:
		default:
			continue
		}

		snacFrame, body, ok := wire.UnmarshalSNACFrame(frame.Payload)
		if !ok || snacFrame.FoodGroup != wire.BUCP {
			continue
		}
		switch snacFrame.SubGroup {
		case wire.BUCPChallengeRequest:
			if err := h.auth.BUCPChallenge(ctx, snacFrame, body, flapc); err != nil {
				h.logger.ErrorContext(ctx, "login challenge", "err", err.Error())
				return
			}
		case wire.BUCPLoginRequest:
			if !h.allow(ctx, conn) {
				flapc.Signoff(nil)
				return
			}
			ok, err := h.auth.BUCPLogin(ctx, snacFrame, body, flapc)
			if err != nil {
				h.logger.ErrorContext(ctx, "login", "err", err.Error())
				return
			}
			if ok {
				// redirect sent; the client reconnects to BOS
				return
			}
		}
	}
}

// serveBOS redeems the handoff cookie and runs the session until the client
// disconnects, is evicted, or the server shuts down.
func (h *Handler) serveBOS(ctx context.Context, conn net.Conn, flapc *wire.FlapClient, reader *frameReader, cookie []byte) {
	sess, err := h.auth.RegisterBOSSession(ctx, cookie)
	if err != nil {
		h.logger.InfoContext(ctx, "session registration failed", "remote", conn.RemoteAddr(), "err", err.Error())
		flapc.Signoff(nil)
		return
	}
	defer h.auth.Signout(ctx, sess)

	h.logger.InfoContext(ctx, "client connected", "uin", sess.UIN(), "remote", conn.RemoteAddr())

	host := h.online.HostOnline()
	if err := flapc.SendSNAC(host.Frame, host.Body); err != nil {
		return
	}
	motd := h.online.SignonMOTD()
	if err := flapc.SendSNAC(motd.Frame, motd.Body); err != nil {
		return
	}

	h.dispatchIncomingMessages(ctx, sess, flapc, reader)
}

// dispatchIncomingMessages multiplexes inbound client frames with messages
// relayed from other sessions, until either side ends the conversation.
func (h *Handler) dispatchIncomingMessages(ctx context.Context, sess *state.Session, flapc *wire.FlapClient, reader *frameReader) {
	frameCh := make(chan wire.FLAPFrame, 10)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			frame, err := reader.Next()
			if err != nil {
				select {
				case errCh <- err:
				case <-done:
				}
				return
			}
			select {
			case frameCh <- frame:
			case <-done:
				// dispatch loop gone; stop without draining the backlog
				return
			}
		}
	}()

	for {
		select {
		case frame := <-frameCh:
			switch frame.FrameType {
			case wire.FLAPFrameData:
				snacFrame, body, ok := wire.UnmarshalSNACFrame(frame.Payload)
				if !ok {
					h.logger.DebugContext(ctx, "dropping short command frame")
					continue
				}
				h.router.Route(ctx, sess, snacFrame, body, flapc)
			case wire.FLAPFrameSignoff:
				return
			case wire.FLAPFrameKeepAlive:
			default:
				h.logger.DebugContext(ctx, "ignoring frame", "frame", frame.FrameType)
			}
		case err := <-errCh:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.DebugContext(ctx, "read failed", "err", err.Error())
			}
			return
		case msg := <-sess.ReceiveMessage():
			if err := flapc.SendSNAC(msg.Frame, msg.Body); err != nil {
				h.logger.DebugContext(ctx, "relay write failed", "err", err.Error())
				return
			}
		case <-sess.Closed():
			// evicted by a newer login for the same UIN
			flapc.Signoff(nil)
			return
		case <-ctx.Done():
			flapc.Signoff(nil)
			return
		}
	}
}

func (h *Handler) allow(ctx context.Context, conn net.Conn) bool {
	if h.rateLimiter == nil {
		return true
	}
	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}
	if h.rateLimiter.Allow(ip) {
		return true
	}
	h.logger.InfoContext(ctx, "rate limited login attempt", "ip", ip)
	return false
}

// frameReader pulls complete FLAP frames off a connection, buffering partial
// reads between calls.
type frameReader struct {
	conn io.Reader
	asm  wire.FLAPReassembler
	buf  []byte
}

func newFrameReader(conn io.Reader) *frameReader {
	return &frameReader{conn: conn, buf: make([]byte, 4096)}
}

// Next blocks until a complete frame is available or the read fails.
func (r *frameReader) Next() (wire.FLAPFrame, error) {
	for {
		frame, ok, err := r.asm.Next()
		if err != nil {
			return wire.FLAPFrame{}, err
		}
		if ok {
			return frame, nil
		}
		n, err := r.conn.Read(r.buf)
		if n > 0 {
			r.asm.Write(r.buf[:n])
		}
		if err != nil {
			return wire.FLAPFrame{}, err
		}
	}
}
