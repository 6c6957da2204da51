package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/metrics"
)

const (
	roomServicePath      = "/twirp/livekit.RoomService/"
	defaultCredentialTTL = 2 * time.Hour
)

// LiveKitConfig holds the connection settings for a LiveKit deployment
type LiveKitConfig struct {
	URL           string
	APIKey        string
	APISecret     string
	CredentialTTL time.Duration
}

// LiveKit implements Gateway against the LiveKit RoomService HTTP API
type LiveKit struct {
	cfg    LiveKitConfig
	http   *http.Client
	logger *zap.Logger
}

// NewLiveKit creates a LiveKit-backed gateway
func NewLiveKit(cfg LiveKitConfig, logger *zap.Logger) (*LiveKit, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			"livekit url, api key and api secret are required", nil)
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = defaultCredentialTTL
	}
	return &LiveKit{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

type createRoomRequest struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	EmptyTimeout    int64  `json:"empty_timeout,omitempty"`
	Metadata        string `json:"metadata,omitempty"`
}

type roomPayload struct {
	SID             string `json:"sid"`
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
	NumParticipants int    `json:"num_participants"`
	CreationTime    int64  `json:"creation_time,string"`
	Metadata        string `json:"metadata"`
}

type listRoomsResponse struct {
	Rooms []roomPayload `json:"rooms"`
}

type participantPayload struct {
	SID      string `json:"sid"`
	Identity string `json:"identity"`
	Name     string `json:"name"`
	State    string `json:"state"`
}

type listParticipantsResponse struct {
	Participants []participantPayload `json:"participants"`
}

type twirpError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// CreateRoom creates a new room
func (g *LiveKit) CreateRoom(ctx context.Context, name string, opts CreateRoomOptions) (*Room, error) {
	req := createRoomRequest{
		Name:            name,
		MaxParticipants: opts.MaxParticipants,
		Metadata:        opts.Metadata,
	}
	if opts.EmptyTimeout > 0 {
		req.EmptyTimeout = int64(opts.EmptyTimeout.Seconds())
	}

	var resp roomPayload
	if err := g.call(ctx, "CreateRoom", name, req, &resp); err != nil {
		return nil, err
	}

	g.logger.Info("created room",
		zap.String("room", resp.Name),
		zap.String("sid", resp.SID))

	return roomFromPayload(resp), nil
}

// DeleteRoom deletes a room and disconnects all participants
func (g *LiveKit) DeleteRoom(ctx context.Context, name string) error {
	body := map[string]string{"room": name}
	if err := g.call(ctx, "DeleteRoom", name, body, &struct{}{}); err != nil {
		return err
	}
	g.logger.Info("deleted room", zap.String("room", name))
	return nil
}

// ListRooms returns all active rooms
func (g *LiveKit) ListRooms(ctx context.Context) ([]*Room, error) {
	var resp listRoomsResponse
	if err := g.call(ctx, "ListRooms", "", struct{}{}, &resp); err != nil {
		return nil, err
	}

	rooms := make([]*Room, 0, len(resp.Rooms))
	for _, r := range resp.Rooms {
		rooms = append(rooms, roomFromPayload(r))
	}
	return rooms, nil
}

// ListParticipants returns the identities currently admitted to a room
func (g *LiveKit) ListParticipants(ctx context.Context, room string) ([]*Participant, error) {
	body := map[string]string{"room": room}
	var resp listParticipantsResponse
	if err := g.call(ctx, "ListParticipants", room, body, &resp); err != nil {
		return nil, err
	}

	participants := make([]*Participant, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		participants = append(participants, &Participant{
			SID:      p.SID,
			Identity: p.Identity,
			Name:     p.Name,
			State:    p.State,
		})
	}
	return participants, nil
}

// RemoveParticipant removes a participant from a room. A missing participant
// is already satisfied and returns nil.
func (g *LiveKit) RemoveParticipant(ctx context.Context, room, identity string) error {
	body := map[string]string{"room": room, "identity": identity}
	err := g.call(ctx, "RemoveParticipant", room, body, &struct{}{})
	if err != nil && apperrors.HasCode(err, apperrors.ErrCodeParticipantNotFound) {
		g.logger.Debug("participant already gone",
			zap.String("room", room),
			zap.String("identity", identity))
		return nil
	}
	if err != nil {
		return err
	}
	g.logger.Info("removed participant",
		zap.String("room", room),
		zap.String("identity", identity))
	return nil
}

// IssueJoinCredential mints a join token for the given identity and room
func (g *LiveKit) IssueJoinCredential(ctx context.Context, room, identity string, role Role) (*Credential, error) {
	if room == "" || identity == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			"room and identity are required", nil)
	}

	now := time.Now()
	expiresAt := now.Add(g.cfg.CredentialTTL)
	perms := grantsForRole(role)

	claims := jwt.MapClaims{
		"iss":  g.cfg.APIKey,
		"sub":  identity,
		"name": identity,
		"nbf":  now.Unix(),
		"exp":  expiresAt.Unix(),
		"video": map[string]interface{}{
			"room":           room,
			"roomJoin":       true,
			"canPublish":     perms.CanPublish,
			"canSubscribe":   perms.CanSubscribe,
			"canPublishData": perms.CanPublishData,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(g.cfg.APISecret))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeGatewayUnavailable,
			"failed to sign join credential", err)
	}

	g.logger.Info("issued join credential",
		zap.String("room", room),
		zap.String("identity", identity),
		zap.String("role", string(role)))

	return &Credential{
		Token:     token,
		Room:      room,
		Identity:  identity,
		URL:       g.cfg.URL,
		ExpiresAt: expiresAt,
	}, nil
}

// call performs one RoomService request and decodes the response into out
func (g *LiveKit) call(ctx context.Context, method, room string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("failed to encode %s request", method), err)
	}

	adminToken, err := g.adminToken(room)
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(g.cfg.URL, "/") + roomServicePath + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.New(apperrors.ErrCodeGatewayUnavailable,
			fmt.Sprintf("failed to build %s request", method), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)

	start := time.Now()
	resp, err := g.http.Do(req)
	metrics.GatewayRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return apperrors.New(apperrors.ErrCodeGatewayUnavailable,
			fmt.Sprintf("room service %s unreachable", method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.mapError(method, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return apperrors.New(apperrors.ErrCodeGatewayUnavailable,
			fmt.Sprintf("failed to decode %s response", method), err)
	}
	return nil
}

// adminToken mints the service-to-service token for RoomService calls
func (g *LiveKit) adminToken(room string) (string, error) {
	now := time.Now()
	video := map[string]interface{}{
		"roomCreate": true,
		"roomList":   true,
		"roomAdmin":  true,
	}
	if room != "" {
		video["room"] = room
	}

	claims := jwt.MapClaims{
		"iss":   g.cfg.APIKey,
		"nbf":   now.Unix(),
		"exp":   now.Add(time.Minute).Unix(),
		"video": video,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(g.cfg.APISecret))
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeGatewayUnavailable,
			"failed to sign service token", err)
	}
	return token, nil
}

// mapError converts a non-200 RoomService response into a taxonomy error
func (g *LiveKit) mapError(method string, resp *http.Response) error {
	var terr twirpError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &terr)

	msg := terr.Msg
	if msg == "" {
		msg = fmt.Sprintf("%s returned status %d", method, resp.StatusCode)
	}

	switch terr.Code {
	case "not_found":
		if method == "RemoveParticipant" {
			return apperrors.New(apperrors.ErrCodeParticipantNotFound, msg, nil)
		}
		return apperrors.New(apperrors.ErrCodeRoomNotFound, msg, nil)
	case "already_exists":
		return apperrors.New(apperrors.ErrCodeNameConflict, msg, nil)
	}

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.New(apperrors.ErrCodeRoomNotFound, msg, nil)
	}
	return apperrors.New(apperrors.ErrCodeGatewayUnavailable, msg, nil)
}

func roomFromPayload(p roomPayload) *Room {
	room := &Room{
		SID:             p.SID,
		Name:            p.Name,
		MaxParticipants: p.MaxParticipants,
		NumParticipants: p.NumParticipants,
		Metadata:        p.Metadata,
	}
	if p.CreationTime > 0 {
		room.CreatedAt = time.Unix(p.CreationTime, 0)
	}
	return room
}
