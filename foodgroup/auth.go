package foodgroup

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// authErrorURL is sent with every failed login, a vestige most clients show
// as a help link.
const authErrorURL = "http://icq.com/"

// CookieStore issues and redeems AUTH-to-BOS handoff cookies.
type CookieStore interface {
	CookieIssuer
	CookieConsumer
}

// AuthService implements both login schemes (0x17 over SNAC and the
// channel-1 FLAP variant) and the BOS-side session registration that redeems
// the handoff cookie.
type AuthService struct {
	users             UserManager
	cookies           CookieStore
	challenges        ChallengeManager
	sessions          SessionRegistry
	feedbag           FeedbagManager
	broadcaster       *buddyBroadcaster
	bosAdvertisedHost string
	disableAuth       bool
	timeNow           timeSource
	logger            *slog.Logger
}

// NewAuthService creates an auth handler. bosAdvertisedHost is the host:port
// clients are redirected to after a successful login.
func NewAuthService(
	users UserManager,
	cookies CookieStore,
	challenges ChallengeManager,
	sessions SessionRegistry,
	sessionLister SessionLister,
	feedbag FeedbagManager,
	bosAdvertisedHost string,
	disableAuth bool,
	timeNow timeSource,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:             users,
		cookies:           cookies,
		challenges:        challenges,
		sessions:          sessions,
		feedbag:           feedbag,
		broadcaster:       newBuddyBroadcaster(sessionLister, feedbag, logger),
		bosAdvertisedHost: bosAdvertisedHost,
		disableAuth:       disableAuth,
		timeNow:           timeNow,
		logger:            logger,
	}
}

// BUCPChallenge issues a fresh MD5 login challenge, overwriting any pending
// challenge for the same UIN. A request whose UIN cannot be parsed still gets
// a challenge so the client proceeds to the login step; the key is simply not
// retained, which makes the subsequent hash check fail.
func (s AuthService) BUCPChallenge(ctx context.Context, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	var challenge string
	var err error
	if uin := s.extractUIN(body); uin != "" {
		challenge, err = s.challenges.Issue(uin)
		s.logger.DebugContext(ctx, "issued login challenge", "uin", uin)
	} else {
		challenge, err = unkeyedChallenge()
		s.logger.DebugContext(ctx, "issued throwaway challenge, no uin in key request")
	}
	if err != nil {
		return err
	}

	b := &wire.Builder{}
	b.Uint16(uint16(len(challenge)))
	b.String(challenge)
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.BUCP,
		SubGroup:  wire.BUCPChallengeResponse,
		RequestID: inFrame.RequestID,
	}, b.Build())
}

// unkeyedChallenge generates a challenge that is sent but never stored.
func unkeyedChallenge() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate login challenge: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// extractUIN pulls the screen name from login TLVs, falling back to a raw
// length-prefixed field some clients send instead.
func (s AuthService) extractUIN(body []byte) string {
	list := wire.UnmarshalTLVList(body)
	if uin, ok := list.String(wire.LoginTLVTagsScreenName); ok {
		return uin
	}
	if len(body) >= 2 {
		length := int(binary.BigEndian.Uint16(body[0:2]))
		if length > 0 && 2+length <= len(body) {
			return string(body[2 : 2+length])
		}
	}
	return ""
}

// BUCPLogin validates credentials submitted over the SNAC login flow. It
// reports whether the login succeeded, letting the caller close the
// conversation once the redirect TLVs are on the wire.
func (s AuthService) BUCPLogin(ctx context.Context, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) (bool, error) {
	reply, err := s.Login(ctx, wire.UnmarshalTLVList(body))
	if err != nil {
		return false, err
	}
	err = rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.BUCP,
		SubGroup:  wire.BUCPLoginResponse,
		RequestID: inFrame.RequestID,
	}, reply.Marshal())
	return reply.HasTag(wire.LoginTLVTagsAuthorizationCookie), err
}

// Login runs credential validation against the submitted TLVs and returns
// the result TLV set: redirect TLVs on success, error TLVs on failure. It
// serves both the SNAC flow and the channel-1 FLAP flow.
func (s AuthService) Login(ctx context.Context, list wire.TLVList) (wire.TLVList, error) {
	uin, ok := list.String(wire.LoginTLVTagsScreenName)
	if !ok || uin == "" {
		return loginFailure(""), nil
	}

	user, err := s.users.User(ctx, uin)
	switch {
	case errors.Is(err, state.ErrNoUser) && s.disableAuth:
		user = state.User{UIN: uin}
		if roasted, ok := list.Bytes(wire.LoginTLVTagsRoastedPassword); ok {
			user.Password = wire.UnroastPassword(roasted)
		}
		if err := s.users.InsertUser(ctx, user); err != nil {
			return nil, fmt.Errorf("auto-create user: %w", err)
		}
		s.logger.InfoContext(ctx, "auto-created user", "uin", uin)
	case errors.Is(err, state.ErrNoUser):
		// consume any pending challenge so it cannot be replayed
		s.challenges.Consume(uin)
		s.logger.InfoContext(ctx, "login failed, unknown uin", "uin", uin)
		return loginFailure(uin), nil
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !s.validateCredentials(ctx, user, list) {
		s.logger.InfoContext(ctx, "login failed, bad credentials", "uin", uin)
		return loginFailure(uin), nil
	}

	cookie, err := s.cookies.Issue(uin)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login ok", "uin", uin)
	return wire.TLVList{
		wire.NewTLVString(wire.LoginTLVTagsScreenName, uin),
		wire.NewTLVString(wire.LoginTLVTagsReconnectHere, s.bosAdvertisedHost),
		wire.NewTLVBytes(wire.LoginTLVTagsAuthorizationCookie, cookie),
	}, nil
}

func (s AuthService) validateCredentials(ctx context.Context, user state.User, list wire.TLVList) bool {
	if s.disableAuth {
		return true
	}
	if hash, ok := list.Bytes(wire.LoginTLVTagsPasswordHash); ok {
		// the challenge is spent whether or not the hash matches
		challenge, ok := s.challenges.Consume(user.UIN)
		return ok && user.ValidateMD5Hash(challenge, hash)
	}
	if roasted, ok := list.Bytes(wire.LoginTLVTagsRoastedPassword); ok {
		return user.ValidateRoastedPass(roasted)
	}
	return false
}

func loginFailure(uin string) wire.TLVList {
	return wire.TLVList{
		wire.NewTLVString(wire.LoginTLVTagsScreenName, uin),
		wire.NewTLVString(wire.LoginTLVTagsErrorURL, authErrorURL),
		wire.NewTLVUint16(wire.LoginTLVTagsErrorSubcode, wire.LoginErrInvalidPassword),
	}
}

// RegisterBOSSession redeems a handoff cookie presented on a BOS connection:
// the cookie is spent, any previous session for the UIN is evicted, and the
// fresh session starts with default presence and the persisted watch set.
func (s AuthService) RegisterBOSSession(ctx context.Context, cookie []byte) (*state.Session, error) {
	uin, ok := s.cookies.Consume(cookie)
	if !ok {
		return nil, errors.New("unknown or already used auth cookie")
	}
	sess := s.sessions.AddSession(uin)
	sess.SetDefaults(s.timeNow())

	names, err := s.feedbag.BuddyNames(ctx, uin)
	if err != nil {
		s.logger.ErrorContext(ctx, "load watch set", "uin", uin, "err", err.Error())
	} else {
		sess.Watch(names...)
	}
	s.logger.InfoContext(ctx, "session registered", "uin", uin)
	return sess, nil
}

// Signout announces the departure to watchers and unregisters the session.
// An evicted session skips the broadcast: its replacement for the same UIN is
// live, and announcing a departure would show the user offline to watchers.
func (s AuthService) Signout(ctx context.Context, sess *state.Session) {
	if s.broadcaster.sessions.RetrieveSession(sess.UIN()) == sess {
		s.broadcaster.broadcastDeparture(ctx, sess)
	}
	s.sessions.RemoveSession(sess)
	s.logger.InfoContext(ctx, "session signed out", "uin", sess.UIN())
}
