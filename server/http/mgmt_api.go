package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/Artemchik-Development/node-icq-server/foodgroup"
	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// uinAssignAttempts bounds how many random UINs are tried before a create
// request gives up on collisions.
const uinAssignAttempts = 10

// NewManagementAPI builds the admin HTTP server. All routes sit behind basic
// auth when adminPass is set; an empty password leaves the API open, which is
// only sensible behind a firewall.
func NewManagementAPI(
	listener string,
	adminUser string,
	adminPass string,
	userManager UserManager,
	sessionRetriever SessionRetriever,
	messageRelayer MessageRelayer,
	uinMin int,
	uinMax int,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Handlers for '/user' route
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		getUserHandler(w, r, userManager, logger)
	})
	mux.HandleFunc("POST /user", func(w http.ResponseWriter, r *http.Request) {
		postUserHandler(w, r, userManager, uinMin, uinMax, logger)
	})
	mux.HandleFunc("DELETE /user", func(w http.ResponseWriter, r *http.Request) {
		deleteUserHandler(w, r, userManager, logger)
	})

	// Handlers for '/session' route
	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		getSessionHandler(w, r, sessionRetriever)
	})
	mux.HandleFunc("GET /session/{uin}", func(w http.ResponseWriter, r *http.Request) {
		getSessionHandler(w, r, sessionRetriever)
	})

	// Handlers for '/instant-message' route
	mux.HandleFunc("POST /instant-message", func(w http.ResponseWriter, r *http.Request) {
		postInstantMessageHandler(w, r, sessionRetriever, messageRelayer, time.Now, logger)
	})

	var handler http.Handler = mux
	if adminPass != "" {
		handler = basicAuth(adminUser, adminPass, mux)
	}

	return &Server{
		server: http.Server{
			Addr:    listener,
			Handler: handler,
		},
		logger: logger,
	}
}

// Server wraps the management API HTTP server.
type Server struct {
	server http.Server
	logger *slog.Logger
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "server", "API", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("unable to start management API server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func basicAuth(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(gotPass), []byte(pass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="management API"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getUserHandler handles the GET /user endpoint.
func getUserHandler(w http.ResponseWriter, r *http.Request, userManager UserManager, logger *slog.Logger) {
	users, err := userManager.AllUsers(r.Context())
	if err != nil {
		logger.Error("error listing users GET /user", "err", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(users); err != nil {
		logger.Error("error encoding response GET /user", "err", err.Error())
	}
}

// postUserHandler handles the POST /user endpoint. A request without a UIN
// gets one assigned from the configured number range.
func postUserHandler(w http.ResponseWriter, r *http.Request, userManager UserManager, uinMin, uinMax int, logger *slog.Logger) {
	user, err := userFromBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if user.UIN == "" {
		user.UIN, err = assignUIN(r.Context(), userManager, uinMin, uinMax)
		if err != nil {
			logger.Error("error assigning uin POST /user", "err", err.Error())
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	} else if _, err := strconv.ParseUint(user.UIN, 10, 32); err != nil {
		http.Error(w, "uin must be numeric", http.StatusBadRequest)
		return
	}

	err = userManager.InsertUser(r.Context(), user)
	switch {
	case errors.Is(err, state.ErrDupUser):
		http.Error(w, "user already exists", http.StatusConflict)
		return
	case err != nil:
		logger.Error("error inserting user POST /user", "err", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	user.Password = ""
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(user); err != nil {
		logger.Error("error encoding response POST /user", "err", err.Error())
	}
}

// deleteUserHandler handles the DELETE /user endpoint.
func deleteUserHandler(w http.ResponseWriter, r *http.Request, userManager UserManager, logger *slog.Logger) {
	user, err := userFromBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = userManager.DeleteUser(r.Context(), user.UIN)
	switch {
	case errors.Is(err, state.ErrNoUser):
		http.Error(w, "user does not exist", http.StatusNotFound)
		return
	case err != nil:
		logger.Error("error deleting user DELETE /user", "err", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// getSessionHandler handles GET /session and GET /session/{uin}.
func getSessionHandler(w http.ResponseWriter, r *http.Request, sessionRetriever SessionRetriever) {
	var sessions []*state.Session

	if uin := r.PathValue("uin"); uin != "" {
		sess := sessionRetriever.RetrieveSession(uin)
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		sessions = append(sessions, sess)
	} else {
		sessions = sessionRetriever.AllSessions()
	}

	ou := onlineUsers{
		Count:    len(sessions),
		Sessions: make([]sessionHandle, len(sessions)),
	}
	for i, sess := range sessions {
		awayMsg, _ := sess.AwayMessage()
		ou.Sessions[i] = sessionHandle{
			UIN:         sess.UIN(),
			Status:      sess.Status(),
			AwayMessage: awayMsg,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ou)
}

// postInstantMessageHandler handles the POST /instant-message endpoint. An
// empty recipient broadcasts to every signed-on session; a named recipient
// who is offline gets the message queued.
func postInstantMessageHandler(w http.ResponseWriter, r *http.Request, sessionRetriever SessionRetriever, messageRelayer MessageRelayer, nowFn func() time.Time, logger *slog.Logger) {
	var msg instantMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed input", http.StatusBadRequest)
		return
	}
	if msg.From == "" || msg.Text == "" {
		http.Error(w, "from and text are required", http.StatusBadRequest)
		return
	}

	icbm := foodgroup.NewIncomingICBM(wire.TLVUserInfo{ScreenName: msg.From}, msg.Text)

	if msg.To == "" {
		for _, sess := range sessionRetriever.AllSessions() {
			sess.RelayMessage(icbm)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if sess := sessionRetriever.RetrieveSession(msg.To); sess != nil {
		sess.RelayMessage(icbm)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// recipient offline, deliver on next signon
	if err := messageRelayer.StoreOfflineMessage(r.Context(), state.OfflineMessage{
		Sender:    msg.From,
		Recipient: msg.To,
		Message:   msg.Text,
		Sent:      nowFn(),
	}); err != nil {
		logger.Error("error queuing message POST /instant-message", "err", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func userFromBody(r *http.Request) (state.User, error) {
	var user state.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		return state.User{}, errors.New("malformed input")
	}
	return user, nil
}

// assignUIN picks an unused UIN from the configured range.
func assignUIN(ctx context.Context, userManager UserManager, uinMin, uinMax int) (string, error) {
	if uinMax <= uinMin {
		return "", fmt.Errorf("bad uin range [%d, %d]", uinMin, uinMax)
	}
	for i := 0; i < uinAssignAttempts; i++ {
		uin := strconv.Itoa(uinMin + rand.Intn(uinMax-uinMin))
		_, err := userManager.User(ctx, uin)
		switch {
		case errors.Is(err, state.ErrNoUser):
			return uin, nil
		case err != nil:
			return "", err
		}
	}
	return "", errors.New("uin range exhausted")
}
