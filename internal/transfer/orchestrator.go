package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/gateway"
	"github.com/relaycall/relaycall/internal/metrics"
	"github.com/relaycall/relaycall/internal/summarizer"
)

// Config holds the orchestration policy values
type Config struct {
	SummaryMaxAttempts   int           `mapstructure:"summary_max_attempts"`
	SummaryRetryInterval time.Duration `mapstructure:"summary_retry_interval"`
	AgentJoinTimeout     time.Duration `mapstructure:"agent_join_timeout"`
	CallerJoinTimeout    time.Duration `mapstructure:"caller_join_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
}

func (c Config) withDefaults() Config {
	if c.SummaryMaxAttempts <= 0 {
		c.SummaryMaxAttempts = 3
	}
	if c.SummaryRetryInterval <= 0 {
		c.SummaryRetryInterval = time.Second
	}
	if c.AgentJoinTimeout <= 0 {
		c.AgentJoinTimeout = 2 * time.Minute
	}
	if c.CallerJoinTimeout <= 0 {
		c.CallerJoinTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Orchestrator drives the warm-transfer state machine. It is the exclusive
// mutator of transfer instances; the per-instance exclusion lock lives in the
// store and is never held across an external call.
type Orchestrator struct {
	store    *Store
	gw       gateway.Gateway
	provider summarizer.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(store *Store, gw gateway.Gateway, provider summarizer.Provider, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		gw:       gw,
		provider: provider,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Initiate starts a warm transfer for a session. It creates the instance,
// requests the destination room, and kicks off summary generation in the
// background. The returned instance is in ROOM_READY on success and FAILED
// when the room could not be created.
func (o *Orchestrator) Initiate(ctx context.Context, sessionID, sourceAgentID, targetAgentID string, callContext summarizer.SummaryRequest) (*Instance, error) {
	sess, err := o.store.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentAgentID != sourceAgentID {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("agent %s is not the current agent for session %s", sourceAgentID, sessionID), nil)
	}

	inst, err := o.store.CreateTransfer(sessionID, sourceAgentID, targetAgentID, callContext)
	if err != nil {
		return nil, err
	}
	metrics.TransfersInitiated.Inc()
	o.logger.Info("transfer initiated",
		zap.String("transfer_id", inst.TransferID),
		zap.String("session_id", sessionID),
		zap.String("source_agent", sourceAgentID),
		zap.String("target_agent", targetAgentID))

	roomName := "transfer-" + inst.TransferID
	room, err := o.gw.CreateRoom(ctx, roomName, gateway.CreateRoomOptions{MaxParticipants: 3})
	if err != nil {
		failed := o.failTransfer(ctx, inst.TransferID, err, false)
		if failed != nil {
			return failed, err
		}
		return inst, err
	}

	updated, err := o.store.Update(inst.TransferID, []State{StateInitiated}, 0, func(i *Instance) {
		i.State = StateRoomReady
		i.DestinationRoomID = room.Name
	})
	if err != nil {
		// Cancelled while the room was being created. The cancel path
		// saw no destination room, so tear it down here.
		o.teardownRoom(ctx, room.Name)
		return o.store.Transfer(inst.TransferID)
	}

	go func() {
		if _, err := o.summarize(context.WithoutCancel(ctx), updated.TransferID); err != nil {
			o.logger.Debug("background summary not applied",
				zap.String("transfer_id", updated.TransferID),
				zap.Error(err))
		}
	}()

	return updated, nil
}

// GenerateSummary re-runs summary generation for an instance and returns the
// updated snapshot. Valid in ROOM_READY and SUMMARY_READY.
func (o *Orchestrator) GenerateSummary(ctx context.Context, transferID string) (*Instance, error) {
	return o.summarize(ctx, transferID)
}

// PreviewSummary generates a summary directly from call context, outside any
// transfer instance
func (o *Orchestrator) PreviewSummary(ctx context.Context, req summarizer.SummaryRequest) (string, error) {
	return o.provider.Summarize(ctx, req)
}

// summarize calls the provider with bounded retries and applies the result
// optimistically: the instance's version is snapshotted before the call and
// checked on apply, so a result arriving after cancellation is discarded.
// Exhausting the attempts degrades to SUMMARY_READY with no summary — a
// missing summary never blocks the handoff.
func (o *Orchestrator) summarize(ctx context.Context, transferID string) (*Instance, error) {
	snap, err := o.store.Transfer(transferID)
	if err != nil {
		return nil, err
	}
	if snap.State != StateRoomReady && snap.State != StateSummaryReady {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is %s, summary applies in %s or %s",
				transferID, snap.State, StateRoomReady, StateSummaryReady), nil)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.SummaryRetryInterval

	operation := func() (string, error) {
		metrics.SummaryAttempts.Inc()
		text, err := o.provider.Summarize(ctx, snap.Context)
		if err != nil {
			metrics.SummaryFailures.Inc()
			o.logger.Warn("summary attempt failed",
				zap.String("transfer_id", transferID),
				zap.String("provider", o.provider.Name()),
				zap.Error(err))
			return "", err
		}
		return text, nil
	}

	summary, genErr := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.cfg.SummaryMaxAttempts)))

	updated, err := o.store.Update(transferID, []State{StateRoomReady, StateSummaryReady}, snap.Version, func(i *Instance) {
		i.State = StateSummaryReady
		if genErr != nil {
			i.Summary = ""
			i.SummaryDegraded = true
		} else {
			i.Summary = summary
			i.SummaryDegraded = false
		}
	})
	if err != nil {
		o.logger.Debug("discarding stale summary result",
			zap.String("transfer_id", transferID),
			zap.Error(err))
		return nil, err
	}

	if genErr != nil {
		metrics.SummariesDegraded.Inc()
		o.logger.Warn("proceeding without summary",
			zap.String("transfer_id", transferID),
			zap.Int("attempts", o.cfg.SummaryMaxAttempts),
			zap.Error(genErr))
	}
	return updated, nil
}

// AdmitAgent issues the target agent's join credential and starts the
// bounded wait for their confirmed presence in the destination room. The
// transition to AGENT_JOINED happens when the room platform reports them.
func (o *Orchestrator) AdmitAgent(ctx context.Context, transferID string) (*gateway.Credential, error) {
	snap, err := o.store.Transfer(transferID)
	if err != nil {
		return nil, err
	}
	if snap.State != StateSummaryReady {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is %s, agent admission requires %s",
				transferID, snap.State, StateSummaryReady), nil)
	}

	cred, err := o.gw.IssueJoinCredential(ctx, snap.DestinationRoomID, snap.TargetAgentID, gateway.RoleAgent)
	if err != nil {
		o.failTransfer(ctx, transferID, err, true)
		return nil, err
	}

	go o.awaitAgentJoin(context.WithoutCancel(ctx), transferID, snap.DestinationRoomID, snap.TargetAgentID)
	return cred, nil
}

func (o *Orchestrator) awaitAgentJoin(ctx context.Context, transferID, room, identity string) {
	if err := o.awaitParticipant(ctx, room, identity, o.cfg.AgentJoinTimeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.New(apperrors.ErrCodeTargetAgentJoinTimeout,
				fmt.Sprintf("agent %s did not join room %s within %s", identity, room, o.cfg.AgentJoinTimeout), err)
		}
		o.failTransfer(ctx, transferID, err, true)
		return
	}

	if _, err := o.store.Update(transferID, []State{StateSummaryReady}, 0, func(i *Instance) {
		i.State = StateAgentJoined
	}); err != nil {
		o.logger.Debug("discarding agent join confirmation",
			zap.String("transfer_id", transferID),
			zap.Error(err))
		return
	}

	o.logger.Info("target agent joined",
		zap.String("transfer_id", transferID),
		zap.String("room", room),
		zap.String("agent", identity))
}

// Complete bridges the caller into the destination room and commits the
// transfer. Valid only from AGENT_JOINED. Any failure before the commit
// point leaves the CallSession untouched; cleanup failures after it are
// recorded as warnings and never roll the transfer back.
func (o *Orchestrator) Complete(ctx context.Context, transferID string) (*Instance, *gateway.Credential, error) {
	snap, err := o.store.Transfer(transferID)
	if err != nil {
		return nil, nil, err
	}
	if snap.State != StateAgentJoined {
		return nil, nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is %s, complete requires %s",
				transferID, snap.State, StateAgentJoined), nil)
	}

	sess, err := o.store.Session(snap.SessionID)
	if err != nil {
		return nil, nil, err
	}
	oldRoom := sess.OriginRoomID

	cred, err := o.gw.IssueJoinCredential(ctx, snap.DestinationRoomID, sess.CallerIdentity, gateway.RoleCaller)
	if err != nil {
		failed := o.failTransfer(ctx, transferID, err, true)
		return failed, nil, err
	}

	if err := o.awaitParticipant(ctx, snap.DestinationRoomID, sess.CallerIdentity, o.cfg.CallerJoinTimeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.New(apperrors.ErrCodeCallerJoinTimeout,
				fmt.Sprintf("caller %s did not join room %s within %s",
					sess.CallerIdentity, snap.DestinationRoomID, o.cfg.CallerJoinTimeout), err)
		}
		failed := o.failTransfer(ctx, transferID, err, true)
		return failed, nil, err
	}

	// Commit point. A concurrent cancel that won the race surfaces here
	// as INVALID_STATE_TRANSITION with the session untouched.
	inst, err := o.store.CompleteTransfer(transferID)
	if err != nil {
		return nil, nil, err
	}
	metrics.TransfersCompleted.Inc()
	o.logger.Info("transfer completed",
		zap.String("transfer_id", transferID),
		zap.String("session_id", inst.SessionID),
		zap.String("new_agent", inst.TargetAgentID),
		zap.String("room", inst.DestinationRoomID))

	o.cleanupOldRoom(ctx, inst, oldRoom, sess.CallerIdentity)

	final, err := o.store.Transfer(transferID)
	if err != nil {
		return inst, cred, nil
	}
	return final, cred, nil
}

// Cancel aborts a transfer from any non-terminal state. The destination room
// is torn down if it was created; the CallSession is never touched.
func (o *Orchestrator) Cancel(ctx context.Context, transferID string) (*Instance, error) {
	inst, err := o.store.Update(transferID, nil, 0, func(i *Instance) {
		i.State = StateCancelled
	})
	if err != nil {
		return nil, err
	}
	metrics.TransfersCancelled.Inc()
	o.logger.Info("transfer cancelled", zap.String("transfer_id", transferID))

	if inst.DestinationRoomID != "" {
		o.teardownRoom(ctx, inst.DestinationRoomID)
	}
	return inst, nil
}

// awaitParticipant polls room membership with backoff until the identity is
// present or the bounded wait elapses. All join-detection timeout policy
// lives here.
func (o *Orchestrator) awaitParticipant(ctx context.Context, room, identity string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.PollInterval
	b.MaxInterval = 4 * o.cfg.PollInterval

	operation := func() (struct{}, error) {
		participants, err := o.gw.ListParticipants(waitCtx, room)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeRoomNotFound) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		for _, p := range participants {
			if p.Identity == identity {
				return struct{}{}, nil
			}
		}
		return struct{}{}, fmt.Errorf("%s not yet in room %s", identity, room)
	}

	_, err := backoff.Retry(waitCtx, operation, backoff.WithBackOff(b))
	if err != nil && waitCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("awaiting %s in %s: %w", identity, room, context.DeadlineExceeded)
	}
	return err
}

// failTransfer moves an instance to FAILED with the cause's taxonomy code.
// A nil return means the instance already reached a terminal state and the
// failure was discarded against it.
func (o *Orchestrator) failTransfer(ctx context.Context, transferID string, cause error, teardown bool) *Instance {
	code := apperrors.CodeOf(cause)
	inst, err := o.store.Update(transferID, nil, 0, func(i *Instance) {
		i.State = StateFailed
		i.FailureCode = code
		i.FailureReason = cause.Error()
	})
	if err != nil {
		o.logger.Debug("failure discarded against terminal state",
			zap.String("transfer_id", transferID),
			zap.Error(cause))
		return nil
	}

	metrics.TransfersFailed.WithLabelValues(code).Inc()
	o.logger.Warn("transfer failed",
		zap.String("transfer_id", transferID),
		zap.String("code", code),
		zap.Error(cause))

	if teardown && inst.DestinationRoomID != "" {
		o.teardownRoom(ctx, inst.DestinationRoomID)
	}
	return inst
}

// cleanupOldRoom removes the caller and the source agent from the origin
// room after the commit point. Each removal is retried once; what still
// fails becomes a warning on the COMPLETED instance.
func (o *Orchestrator) cleanupOldRoom(ctx context.Context, inst *Instance, room, callerIdentity string) {
	if room == "" {
		return
	}

	var result *multierror.Error
	for _, identity := range []string{callerIdentity, inst.SourceAgentID} {
		if err := o.removeWithRetry(ctx, room, identity); err != nil {
			result = multierror.Append(result,
				fmt.Errorf("remove %s from %s: %w", identity, room, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		warnings := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			warnings = append(warnings, e.Error())
			metrics.CleanupWarnings.Inc()
		}
		o.logger.Warn("old-room cleanup incomplete",
			zap.String("transfer_id", inst.TransferID),
			zap.String("room", room),
			zap.Error(err))
		if aerr := o.store.AppendWarnings(inst.TransferID, warnings...); aerr != nil {
			o.logger.Warn("could not attach cleanup warnings",
				zap.String("transfer_id", inst.TransferID),
				zap.Error(aerr))
		}
	}
}

func (o *Orchestrator) removeWithRetry(ctx context.Context, room, identity string) error {
	operation := func() (struct{}, error) {
		return struct{}{}, o.gw.RemoveParticipant(ctx, room, identity)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.PollInterval
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(2))
	return err
}

func (o *Orchestrator) teardownRoom(ctx context.Context, room string) {
	if err := o.gw.DeleteRoom(ctx, room); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeRoomNotFound) {
			return
		}
		o.logger.Warn("destination room teardown failed",
			zap.String("room", room),
			zap.Error(err))
	}
}
