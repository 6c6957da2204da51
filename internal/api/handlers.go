package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/gateway"
	"github.com/relaycall/relaycall/internal/summarizer"
	"github.com/relaycall/relaycall/internal/transfer"
)

// transferView is the wire shape of a transfer instance
type transferView struct {
	TransferID        string         `json:"transfer_id"`
	SessionID         string         `json:"session_id"`
	SourceAgentID     string         `json:"source_agent_id"`
	TargetAgentID     string         `json:"target_agent_id"`
	State             transfer.State `json:"state"`
	DestinationRoomID string         `json:"destination_room_id,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	SummaryDegraded   bool           `json:"summary_degraded,omitempty"`
	FailureCode       string         `json:"failure_code,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func viewOf(inst *transfer.Instance) transferView {
	return transferView{
		TransferID:        inst.TransferID,
		SessionID:         inst.SessionID,
		SourceAgentID:     inst.SourceAgentID,
		TargetAgentID:     inst.TargetAgentID,
		State:             inst.State,
		DestinationRoomID: inst.DestinationRoomID,
		Summary:           inst.Summary,
		SummaryDegraded:   inst.SummaryDegraded,
		FailureCode:       inst.FailureCode,
		FailureReason:     inst.FailureReason,
		Warnings:          inst.Warnings,
		CreatedAt:         inst.CreatedAt,
		UpdatedAt:         inst.UpdatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.gw.ListRooms(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"active_rooms": len(rooms),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

type createSessionRequest struct {
	SessionID      string `json:"session_id"`
	OriginRoomID   string `json:"origin_room_id"`
	CurrentAgentID string `json:"current_agent_id"`
	CallerIdentity string `json:"caller_identity,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.OriginRoomID == "" || req.CurrentAgentID == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput,
			"session_id, origin_room_id and current_agent_id are required", nil), "")
		return
	}

	sess := s.store.PutSession(transfer.CallSession{
		SessionID:      req.SessionID,
		OriginRoomID:   req.OriginRoomID,
		CurrentAgentID: req.CurrentAgentID,
		CallerIdentity: req.CallerIdentity,
	})
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Session(mux.Vars(r)["sessionId"])
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	role := gateway.Role(req.Role)
	if role == "" {
		role = gateway.RoleParticipant
	}

	cred, err := s.gw.IssueJoinCredential(r.Context(), req.Room, req.Identity, role)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, cred)
}

type createRoomRequest struct {
	RoomName        string `json:"room_name"`
	MaxParticipants int    `json:"max_participants,omitempty"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.RoomName == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput,
			"room_name is required", nil), "")
		return
	}

	room, err := s.gw.CreateRoom(r.Context(), req.RoomName, gateway.CreateRoomOptions{
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.gw.ListRooms(r.Context())
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms":       rooms,
		"total_rooms": len(rooms),
	})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["roomName"]
	if err := s.gw.DeleteRoom(r.Context(), name); err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "room " + name + " deleted"})
}

type initiateTransferRequest struct {
	SessionID     string             `json:"session_id"`
	SourceAgentID string             `json:"source_agent_id,omitempty"`
	TargetAgentID string             `json:"target_agent_id"`
	ContextBlob   string             `json:"context_blob,omitempty"`
	History       []summarizer.Entry `json:"conversation_history,omitempty"`
	CallerInfo    map[string]string  `json:"caller_info,omitempty"`
	SummaryStyle  summarizer.Style   `json:"summary_style,omitempty"`
}

func (s *Server) handleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req initiateTransferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.TargetAgentID == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput,
			"session_id and target_agent_id are required", nil), "")
		return
	}

	// The source agent defaults to whoever currently holds the session.
	source := req.SourceAgentID
	if source == "" {
		sess, err := s.store.Session(req.SessionID)
		if err != nil {
			s.writeError(w, err, "")
			return
		}
		source = sess.CurrentAgentID
	}

	inst, err := s.orch.Initiate(r.Context(), req.SessionID, source, req.TargetAgentID,
		summarizer.SummaryRequest{
			ContextBlob: req.ContextBlob,
			History:     req.History,
			CallerInfo:  req.CallerInfo,
			Style:       req.SummaryStyle,
		})
	if err != nil {
		state := transfer.State("")
		if inst != nil {
			state = inst.State
		}
		s.writeError(w, err, state)
		return
	}

	s.writeJSON(w, http.StatusOK, viewOf(inst))
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.Transfer(mux.Vars(r)["transferId"])
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(inst))
}

type transferRef struct {
	TransferID string `json:"transfer_id"`
}

func (s *Server) handleAdmitAgent(w http.ResponseWriter, r *http.Request) {
	var req transferRef
	if !s.decode(w, r, &req) {
		return
	}

	cred, err := s.orch.AdmitAgent(r.Context(), req.TransferID)
	if err != nil {
		s.writeError(w, err, s.currentState(req.TransferID))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfer_id": req.TransferID,
		"credential":  cred,
	})
}

func (s *Server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRef
	if !s.decode(w, r, &req) {
		return
	}

	inst, cred, err := s.orch.Complete(r.Context(), req.TransferID)
	if err != nil {
		state := s.currentState(req.TransferID)
		if inst != nil {
			state = inst.State
		}
		s.writeError(w, err, state)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfer":          viewOf(inst),
		"caller_credential": cred,
	})
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRef
	if !s.decode(w, r, &req) {
		return
	}

	inst, err := s.orch.Cancel(r.Context(), req.TransferID)
	if err != nil {
		s.writeError(w, err, s.currentState(req.TransferID))
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(inst))
}

type generateSummaryRequest struct {
	TransferID  string             `json:"transfer_id,omitempty"`
	ContextBlob string             `json:"context_blob,omitempty"`
	History     []summarizer.Entry `json:"conversation_history,omitempty"`
	CallerInfo  map[string]string  `json:"caller_info,omitempty"`
	Style       summarizer.Style   `json:"summary_style,omitempty"`
}

// handleGenerateSummary serves both the per-transfer re-trigger and the
// standalone preview over a raw context blob.
func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	var req generateSummaryRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.TransferID != "" {
		inst, err := s.orch.GenerateSummary(r.Context(), req.TransferID)
		if err != nil {
			s.writeError(w, err, s.currentState(req.TransferID))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"transfer_id":      inst.TransferID,
			"state":            inst.State,
			"summary":          inst.Summary,
			"summary_degraded": inst.SummaryDegraded,
		})
		return
	}

	summary, err := s.orch.PreviewSummary(r.Context(), summarizer.SummaryRequest{
		ContextBlob: req.ContextBlob,
		History:     req.History,
		CallerInfo:  req.CallerInfo,
		Style:       req.Style,
	})
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":      summary,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

type suggestQuestionsRequest struct {
	Summary    string            `json:"summary"`
	CallerInfo map[string]string `json:"caller_info,omitempty"`
}

func (s *Server) handleSuggestQuestions(w http.ResponseWriter, r *http.Request) {
	var req suggestQuestionsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Summary == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput,
			"summary is required", nil), "")
		return
	}

	questions, err := s.provider.SuggestQuestions(r.Context(), req.Summary, req.CallerInfo)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":  stats.Sessions,
		"transfers": stats.Transfers,
		"by_state":  stats.ByState,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// currentState looks up an instance's state for inclusion in error payloads
func (s *Server) currentState(transferID string) transfer.State {
	inst, err := s.store.Transfer(transferID)
	if err != nil {
		return ""
	}
	return inst.State
}
