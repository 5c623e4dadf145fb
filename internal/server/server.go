package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"chat-backend/internal/broker"
	"chat-backend/internal/hub"
	"chat-backend/internal/store"
)

// Server is the protocol-facing gateway: registration, roster and history
// over JSON, plus the websocket upgrade that wires a confirmed username
// into the hub.
type Server struct {
	store      store.Store
	hub        *hub.Hub
	broker     *broker.Broker
	validate   *validator.Validate
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *slog.Logger
}

func New(st store.Store, h *hub.Hub, b *broker.Broker, sendBuffer int, log *slog.Logger) *Server {
	return &Server{
		store:      st,
		hub:        h,
		broker:     b,
		validate:   validator.New(),
		sendBuffer: sendBuffer,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // In production, validate the origin here.
			},
		},
	}
}

// Register mounts all routes on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/users/register", s.api(s.handleRegister))
	mux.HandleFunc("/users/", s.api(s.handleListUsers))
	mux.HandleFunc("/messages/", s.api(s.handleHistory))
	mux.HandleFunc("/ws/{username}", s.handleWS)
}

// api adds CORS headers and answers preflight, like every JSON route here.
func (s *Server) api(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}

	err := s.store.RegisterUser(r.Context(), req.Username)
	switch {
	case errors.Is(err, store.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, "invalid_name")
	case errors.Is(err, store.ErrDuplicateName):
		s.writeError(w, http.StatusConflict, "username_exists")
	case err != nil:
		s.log.Error("Registration failed", "username", req.Username, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "store_unavailable")
	default:
		s.log.Info("User registered", "username", req.Username)
		s.writeJSON(w, http.StatusOK, map[string]string{"username": req.Username})
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.Error("Failed to list users", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if users == nil {
		users = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"users": users})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := s.store.History(r.Context())
	if err != nil {
		s.log.Error("Failed to load history", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

// handleWS upgrades a pre-registered username to a persistent connection.
// The handler goroutine becomes the connection's read pump; when it returns
// the client has disconnected or been superseded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PathValue("username"))

	exists, err := s.store.UserExists(r.Context(), username)
	if err != nil {
		s.log.Error("Failed to confirm user before upgrade", "username", username, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	if !exists {
		s.writeError(w, http.StatusForbidden, "unknown_user")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "username", username, "error", err)
		return
	}

	client := hub.NewClient(username, conn, s.sendBuffer, s.log)
	s.hub.Join(client)
	go client.WritePump()
	s.broker.PresenceChanged()

	client.ReadPump(func(content string) {
		s.broker.HandleContent(r.Context(), username, content)
	})

	if s.hub.Leave(client) {
		s.broker.PresenceChanged()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string) {
	s.writeJSON(w, status, map[string]string{"error": code})
}
