// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package mockapi is an in-memory implementation of the platform API for development and
tests.

It serves the endpoints used by the api package and the gateway: login, credential
refresh, connections, notifications, creators and the realtime socket. Access tokens are
HS256 JWTs with a short lifetime, so clients exercise the refresh path.
*/
package mockapi

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gateway/api"
	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/logger"
)

type account struct {
	user     api.User
	password string
}

// Server is the mock API
type Server struct {
	router   *mux.Router
	key      []byte
	tokenTTL time.Duration
	upgrader websocket.Upgrader
	// writeMu serializes socket writes
	writeMu sync.Mutex

	mu            sync.Mutex
	accounts      map[string]*account
	refreshTokens map[string]string
	connections   []api.Connection
	notifications map[string][]api.Notification
	creators      map[string]api.Creator
	sockets       map[string]map[*websocket.Conn]bool
}

// New returns a mock API signing tokens with key, valid for tokenTTL
func New(key []byte, tokenTTL time.Duration) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		key:           key,
		tokenTTL:      tokenTTL,
		accounts:      map[string]*account{},
		refreshTokens: map[string]string{},
		notifications: map[string][]api.Notification{},
		creators:      map[string]api.Creator{},
		sockets:       map[string]map[*websocket.Conn]bool{},
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	logger.AddRequestID(s.router)

	r := s.router
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/auth/login", s.login(false)).Methods(http.MethodPost)
	r.HandleFunc("/admin/login", s.login(true)).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh-token", s.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.authenticated(s.me)).Methods(http.MethodGet)
	r.HandleFunc("/connections/stats", s.authenticated(s.connectionStats)).Methods(http.MethodGet)
	r.HandleFunc("/connections", s.authenticated(s.listConnections)).Methods(http.MethodGet)
	r.HandleFunc("/connections", s.authenticated(s.createConnection)).Methods(http.MethodPost)
	r.HandleFunc("/connections/{id}", s.authenticated(s.deleteConnection)).Methods(http.MethodDelete)
	r.HandleFunc("/notifications", s.authenticated(s.listNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/notifications/unread-count", s.authenticated(s.unreadCount)).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}/read", s.authenticated(s.markRead)).Methods(http.MethodPost)
	r.HandleFunc("/creators/dashboard", s.authenticated(s.dashboard)).Methods(http.MethodGet)
	r.HandleFunc("/creators/{id}", s.authenticated(s.getCreator)).Methods(http.MethodGet)
	r.HandleFunc("/socket", s.socket).Methods(http.MethodGet)
	return s
}

// Handler returns the API handler with CORS enabled
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID", "X-User-Role",
			"X-Device-Type", "X-Screen-Width", "X-Screen-Height", "X-Pixel-Ratio", "X-App-Mode", "X-Timezone"}),
	)(s.router)
}

// AddUser creates an account and returns its id. Creators also get a public profile.
func (s *Server) AddUser(email, password, name string, role access.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.accounts[email] = &account{
		user:     api.User{ID: id, Email: email, Name: name, Role: role},
		password: password,
	}
	if role == access.RoleCreator {
		handle := strings.ToLower(strings.ReplaceAll(name, " ", ""))
		s.creators[id] = api.Creator{ID: id, Name: name, Handle: handle}
	}
	return id
}

// Token mints an access token for the account with email, valid for ttl. A negative ttl
// yields an expired token.
func (s *Server) Token(email string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	a, ok := s.accounts[email]
	s.mu.Unlock()
	if !ok {
		return "", errUnknownAccount
	}
	return access.Sign(s.key, a.user.ID, email, a.user.Role, ttl)
}

// Notify adds a notification for the user and pushes it to the user's open sockets
func (s *Server) Notify(userID, kind, message string) api.Notification {
	n := api.Notification{
		ID:        uuid.New().String(),
		Type:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.notifications[userID] = append(s.notifications[userID], n)
	var conns []*websocket.Conn
	for conn := range s.sockets[userID] {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	data, _ := json.Marshal(n)
	msg, _ := json.Marshal(map[string]interface{}{"event": "notification", "data": json.RawMessage(data)})
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, conn := range conns {
		conn.WriteMessage(websocket.TextMessage, msg)
	}
	return n
}

func (s *Server) issue(a *account) (map[string]interface{}, error) {
	token, err := access.Sign(s.key, a.user.ID, a.user.Email, a.user.Role, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	refreshToken := uuid.New().String()
	s.mu.Lock()
	s.refreshTokens[refreshToken] = a.user.Email
	s.mu.Unlock()
	return map[string]interface{}{
		"token":        token,
		"refreshToken": refreshToken,
		"role":         string(a.user.Role),
		"user":         a.user,
	}, nil
}

func (s *Server) login(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		fields := map[string]string{}
		if req.Email == "" {
			fields["email"] = "is required"
		}
		if req.Password == "" {
			fields["password"] = "is required"
		}
		if len(fields) > 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"message": "validation failed", "errors": fields})
			return
		}
		s.mu.Lock()
		a, ok := s.accounts[req.Email]
		s.mu.Unlock()
		if !ok || a.password != req.Password {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if admin && a.user.Role != access.RoleAdmin {
			writeError(w, http.StatusForbidden, "admins only")
			return
		}
		res, err := s.issue(a)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	email, ok := s.refreshTokens[req.RefreshToken]
	delete(s.refreshTokens, req.RefreshToken)
	a := s.accounts[email]
	s.mu.Unlock()
	if !ok || a == nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	res, err := s.issue(a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": res["token"], "refreshToken": res["refreshToken"]})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user api.User)

func (s *Server) authenticated(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h(w, r, user)
	}
}

func (s *Server) authenticate(r *http.Request) (api.User, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := access.Verify(s.key, token)
	if err != nil {
		return api.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[claims.Email]; ok && a.user.ID == claims.Subject {
		return a.user, nil
	}
	return api.User{}, errUnknownAccount
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, user api.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) ownConnections(user api.User) []api.Connection {
	var own []api.Connection
	for _, c := range s.connections {
		if c.MemberID == user.ID || c.CreatorID == user.ID {
			own = append(own, c)
		}
	}
	return own
}

func (s *Server) connectionStats(w http.ResponseWriter, r *http.Request, user api.User) {
	s.mu.Lock()
	own := s.ownConnections(user)
	s.mu.Unlock()
	stats := api.ConnectionStats{Total: len(own)}
	for _, c := range own {
		if c.Status == "pending" {
			stats.Pending++
		} else {
			stats.Connected++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request, user api.User) {
	s.mu.Lock()
	own := s.ownConnections(user)
	s.mu.Unlock()
	if own == nil {
		own = []api.Connection{}
	}
	writeJSON(w, http.StatusOK, own)
}

func (s *Server) createConnection(w http.ResponseWriter, r *http.Request, user api.User) {
	var req struct {
		CreatorID string `json:"creatorId"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.CreatorID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"errors": []map[string]string{{"param": "creatorId", "msg": "is required"}},
		})
		return
	}
	s.mu.Lock()
	if _, ok := s.creators[req.CreatorID]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "creator not found")
		return
	}
	for _, c := range s.connections {
		if c.CreatorID == req.CreatorID && c.MemberID == user.ID {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "already connected")
			return
		}
	}
	c := api.Connection{
		ID:        uuid.New().String(),
		CreatorID: req.CreatorID,
		MemberID:  user.ID,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
	s.connections = append(s.connections, c)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteConnection(w http.ResponseWriter, r *http.Request, user api.User) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.connections {
		if c.ID == id && (c.MemberID == user.ID || c.CreatorID == user.ID) {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "connection not found")
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, user api.User) {
	s.mu.Lock()
	list := append([]api.Notification{}, s.notifications[user.ID]...)
	s.mu.Unlock()
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) unreadCount(w http.ResponseWriter, r *http.Request, user api.User) {
	s.mu.Lock()
	count := 0
	for _, n := range s.notifications[user.ID] {
		if !n.Read {
			count++
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request, user api.User) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications[user.ID] {
		if n.ID == id {
			s.notifications[user.ID][i].Read = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "notification not found")
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request, user api.User) {
	if user.Role != access.RoleCreator {
		writeError(w, http.StatusForbidden, "creators only")
		return
	}
	s.mu.Lock()
	var d api.Dashboard
	for _, c := range s.connections {
		if c.CreatorID != user.ID {
			continue
		}
		if c.Status == "pending" {
			d.PendingConnections++
		} else {
			d.Connections++
		}
	}
	for _, n := range s.notifications[user.ID] {
		if !n.Read {
			d.UnreadNotifications++
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) getCreator(w http.ResponseWriter, r *http.Request, user api.User) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	creator, ok := s.creators[id]
	if ok {
		for _, c := range s.connections {
			if c.CreatorID == id && c.Status != "pending" {
				creator.Connections++
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "creator not found")
		return
	}
	writeJSON(w, http.StatusOK, creator)
}

// socket upgrades to the realtime channel and keeps the connection until the client leaves
func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rlog.WithError(err).Errorln("cannot upgrade socket")
		return
	}
	s.mu.Lock()
	if s.sockets[user.ID] == nil {
		s.sockets[user.ID] = map[*websocket.Conn]bool{}
	}
	s.sockets[user.ID][conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sockets[user.ID], conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
