package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/gateway"
	"github.com/relaycall/relaycall/internal/summarizer"
	"github.com/relaycall/relaycall/internal/transfer"
)

type stubGateway struct {
	mu       sync.Mutex
	rooms    map[string]*gateway.Room
	listErr  error
	joined   map[string][]string
	autoJoin bool
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		rooms:  make(map[string]*gateway.Room),
		joined: make(map[string][]string),
	}
}

func (g *stubGateway) CreateRoom(_ context.Context, name string, opts gateway.CreateRoomOptions) (*gateway.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := &gateway.Room{Name: name, MaxParticipants: opts.MaxParticipants}
	g.rooms[name] = room
	return room, nil
}

func (g *stubGateway) DeleteRoom(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[name]; !ok {
		return apperrors.New(apperrors.ErrCodeRoomNotFound, "room not found", nil)
	}
	delete(g.rooms, name)
	return nil
}

func (g *stubGateway) ListRooms(_ context.Context) ([]*gateway.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]*gateway.Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (g *stubGateway) ListParticipants(_ context.Context, room string) ([]*gateway.Participant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Participant, 0)
	for _, id := range g.joined[room] {
		out = append(out, &gateway.Participant{Identity: id})
	}
	return out, nil
}

func (g *stubGateway) RemoveParticipant(_ context.Context, _, _ string) error { return nil }

func (g *stubGateway) IssueJoinCredential(_ context.Context, room, identity string, _ gateway.Role) (*gateway.Credential, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.autoJoin {
		g.joined[room] = append(g.joined[room], identity)
	}
	return &gateway.Credential{
		Token:     "tok-" + identity,
		Room:      room,
		Identity:  identity,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

type stubProvider struct {
	summary   string
	questions []string
}

func (p *stubProvider) Summarize(context.Context, summarizer.SummaryRequest) (string, error) {
	return p.summary, nil
}

func (p *stubProvider) SuggestQuestions(context.Context, string, map[string]string) ([]string, error) {
	return p.questions, nil
}

func (p *stubProvider) Name() string { return "stub" }

func newTestServer(t *testing.T) (*Server, *stubGateway, *transfer.Store) {
	t.Helper()
	gw := newStubGateway()
	provider := &stubProvider{summary: "caller needs billing help", questions: []string{"q1", "q2"}}
	store := transfer.NewStore(time.Hour, zap.NewNop())
	orch := transfer.NewOrchestrator(store, gw, provider, transfer.Config{
		SummaryMaxAttempts:   1,
		SummaryRetryInterval: time.Millisecond,
		AgentJoinTimeout:     200 * time.Millisecond,
		CallerJoinTimeout:    200 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
	}, zap.NewNop())
	return NewServer(store, orch, gw, provider, zap.NewNop()), gw, store
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func seedSession(t *testing.T, s *Server) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/sessions", createSessionRequest{
		SessionID:      "S1",
		OriginRoomID:   "room-s1",
		CurrentAgentID: "A1",
		CallerIdentity: "caller-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s, gw, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	gw.listErr = apperrors.New(apperrors.ErrCodeGatewayUnavailable, "down", nil)
	rec = doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decodeBody(t, rec)["status"])
}

func TestSessionLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/sessions/S1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "A1", body["current_agent_id"])
	assert.Equal(t, "room-s1", body["origin_room_id"])
}

func TestGetSession_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, resp.Error.Code)
}

func TestCreateSession_MissingFields(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", createSessionRequest{SessionID: "S1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToken(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/token", tokenRequest{Room: "r1", Identity: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "tok-u1", body["token"])
	assert.Equal(t, "r1", body["room"])
}

func TestRooms(t *testing.T) {
	s, gw, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/create-room", createRoomRequest{RoomName: "r1", MaxParticipants: 5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total_rooms"])

	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gw.rooms)

	rec = doJSON(t, s, http.MethodDelete, "/api/rooms/r1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRoom_MissingName(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/create-room", createRoomRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiateTransfer(t *testing.T) {
	s, gw, _ := newTestServer(t)
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID:     "S1",
		TargetAgentID: "A2",
		ContextBlob:   "caller upset about invoice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, string(transfer.StateRoomReady), body["state"])
	assert.Equal(t, "A1", body["source_agent_id"], "source defaults to the session's current agent")
	assert.Equal(t, "A2", body["target_agent_id"])

	gw.mu.Lock()
	assert.Len(t, gw.rooms, 1)
	gw.mu.Unlock()
}

func TestInitiateTransfer_UnknownSession(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID:     "nope",
		TargetAgentID: "A2",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitiateTransfer_SecondActiveConflicts(t *testing.T) {
	s, _, _ := newTestServer(t)
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID: "S1", TargetAgentID: "A2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID: "S1", TargetAgentID: "A3",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrCodeSessionHasActiveTransfer, resp.Error.Code)
}

func TestGetTransfer(t *testing.T) {
	s, _, _ := newTestServer(t)
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID: "S1", TargetAgentID: "A2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["transfer_id"].(string)

	rec = doJSON(t, s, http.MethodGet, "/api/transfer/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody(t, rec)["transfer_id"])

	rec = doJSON(t, s, http.MethodGet, "/api/transfer/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTransfer(t *testing.T) {
	s, gw, _ := newTestServer(t)
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID: "S1", TargetAgentID: "A2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["transfer_id"].(string)

	rec = doJSON(t, s, http.MethodPost, "/api/cancel-transfer", transferRef{TransferID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(transfer.StateCancelled), decodeBody(t, rec)["state"])

	gw.mu.Lock()
	assert.Empty(t, gw.rooms, "destination room torn down on cancel")
	gw.mu.Unlock()
}

func TestFullTransferOverHTTP(t *testing.T) {
	s, gw, store := newTestServer(t)
	gw.autoJoin = true
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/initiate-transfer", initiateTransferRequest{
		SessionID: "S1", TargetAgentID: "A2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["transfer_id"].(string)

	require.Eventually(t, func() bool {
		inst, err := store.Transfer(id)
		return err == nil && inst.State == transfer.StateSummaryReady
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, s, http.MethodPost, "/api/admit-agent", transferRef{TransferID: id})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		inst, err := store.Transfer(id)
		return err == nil && inst.State == transfer.StateAgentJoined
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, s, http.MethodPost, "/api/complete-transfer", transferRef{TransferID: id})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	tr := body["transfer"].(map[string]interface{})
	assert.Equal(t, string(transfer.StateCompleted), tr["state"])
	assert.NotEmpty(t, body["caller_credential"])

	sess, err := store.Session("S1")
	require.NoError(t, err)
	assert.Equal(t, "A2", sess.CurrentAgentID)
}

func TestAdmitAgent_WrongState(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/admit-agent", transferRef{TransferID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateSummary_Preview(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/generate-summary", generateSummaryRequest{
		ContextBlob: "caller wants refund",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "caller needs billing help", decodeBody(t, rec)["summary"])
}

func TestSuggestQuestions(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/suggest-questions", suggestQuestionsRequest{
		Summary: "caller needs billing help",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["questions"], 2)

	rec = doJSON(t, s, http.MethodPost, "/api/suggest-questions", suggestQuestionsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(t)
	seedSession(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["sessions"])
}

func TestInvalidBody(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/initiate-transfer", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
