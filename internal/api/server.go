// Package api exposes the transfer orchestration as an HTTP facade.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/gateway"
	"github.com/relaycall/relaycall/internal/metrics"
	"github.com/relaycall/relaycall/internal/summarizer"
	"github.com/relaycall/relaycall/internal/transfer"
)

// Server wires the HTTP routes to the orchestration core
type Server struct {
	store    *transfer.Store
	orch     *transfer.Orchestrator
	gw       gateway.Gateway
	provider summarizer.Provider
	router   *mux.Router
	logger   *zap.Logger
}

// NewServer creates the HTTP facade
func NewServer(store *transfer.Store, orch *transfer.Orchestrator, gw gateway.Gateway, provider summarizer.Provider, logger *zap.Logger) *Server {
	s := &Server{
		store:    store,
		orch:     orch,
		gw:       gw,
		provider: provider,
		router:   mux.NewRouter(),
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured handler
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Session registry
	s.router.HandleFunc("/api/sessions", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/api/sessions/{sessionId}", s.handleGetSession).Methods("GET")

	// Room pass-through
	s.router.HandleFunc("/api/token", s.handleToken).Methods("POST")
	s.router.HandleFunc("/api/create-room", s.handleCreateRoom).Methods("POST")
	s.router.HandleFunc("/api/rooms", s.handleListRooms).Methods("GET")
	s.router.HandleFunc("/api/rooms/{roomName}", s.handleDeleteRoom).Methods("DELETE")

	// Transfer workflow
	s.router.HandleFunc("/api/initiate-transfer", s.handleInitiateTransfer).Methods("POST")
	s.router.HandleFunc("/api/transfer/{transferId}", s.handleGetTransfer).Methods("GET")
	s.router.HandleFunc("/api/admit-agent", s.handleAdmitAgent).Methods("POST")
	s.router.HandleFunc("/api/complete-transfer", s.handleCompleteTransfer).Methods("POST")
	s.router.HandleFunc("/api/cancel-transfer", s.handleCancelTransfer).Methods("POST")

	// Summaries
	s.router.HandleFunc("/api/generate-summary", s.handleGenerateSummary).Methods("POST")
	s.router.HandleFunc("/api/suggest-questions", s.handleSuggestQuestions).Methods("POST")

	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload   `json:"error"`
	State transfer.State `json:"state,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps an error onto the taxonomy response shape. state, when
// known, tells clients where the instance ended up.
func (s *Server) writeError(w http.ResponseWriter, err error, state transfer.State) {
	code := apperrors.CodeOf(err)
	s.writeJSON(w, statusForCode(code), errorResponse{
		Error: errorPayload{Code: code, Message: err.Error()},
		State: state,
	})
}

func statusForCode(code string) int {
	switch code {
	case apperrors.ErrCodeSessionNotFound,
		apperrors.ErrCodeTransferNotFound,
		apperrors.ErrCodeRoomNotFound,
		apperrors.ErrCodeParticipantNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeSessionHasActiveTransfer,
		apperrors.ErrCodeNameConflict,
		apperrors.ErrCodeInvalidStateTransition:
		return http.StatusConflict
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeInvalidContext:
		return http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeGatewayUnavailable, apperrors.ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	case apperrors.ErrCodeTargetAgentJoinTimeout, apperrors.ErrCodeCallerJoinTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput,
			"invalid request body", err), "")
		return false
	}
	return true
}
