package amqtx

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/amqtx/api"
	"pkt.systems/amqtx/internal/clock"
	"pkt.systems/amqtx/internal/correlation"
	"pkt.systems/amqtx/internal/svcfields"
	"pkt.systems/pslog"
)

// txnPhase tracks where the context is in the declare/discharge lifecycle.
type txnPhase uint8

const (
	phaseIdle txnPhase = iota
	phaseDeclaring
	phaseActive
	phaseDischarging
)

func (p txnPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseDeclaring:
		return "declaring"
	case phaseActive:
		return "active"
	case phaseDischarging:
		return "discharging"
	default:
		return "unknown"
	}
}

// TransactionContext coordinates one session's transactions against a remote
// transaction coordinator: it provisions the coordinator link lazily, runs
// the declare and discharge exchanges, keeps the cached delivery states
// consumers and producers attach to their traffic, and tracks which
// resources are enrolled in the current transaction.
//
// The context is single-threaded by contract: every method, every
// CoordinatorLink resolution, and every LinkBuilder continuation must run on
// the session's processing goroutine. The context holds no locks; callers
// that drive it from several goroutines must serialize externally.
type TransactionContext struct {
	sessionID string
	builder   LinkBuilder
	logger    pslog.Logger
	clk       clock.Clock
	metrics   *txnMetrics

	phase       txnPhase
	coordinator CoordinatorLink
	current     *TxnID
	accepted    *api.TransactionalState
	enrolled    *api.TransactionalState

	resources    *registry
	pendingSends map[*pendingSend]struct{}
	sendFailed   bool
}

// New constructs a TransactionContext from cfg. The builder is required;
// logger and clock default when absent.
func New(cfg Config) (*TransactionContext, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	logger := svcfields.WithSubsystem(cfg.Logger, "txn.context").With("session", cfg.SessionID)
	return &TransactionContext{
		sessionID:    cfg.SessionID,
		builder:      cfg.Builder,
		logger:       logger,
		clk:          cfg.Clock,
		metrics:      newTxnMetrics(logger),
		resources:    newRegistry(),
		pendingSends: make(map[*pendingSend]struct{}),
	}, nil
}

// SessionID returns the session identity the context was configured with.
func (tc *TransactionContext) SessionID() string {
	return tc.sessionID
}

// Begin opens a transaction under the supplied identity. It fails with an
// illegal-state Failure while another transaction is bound or a declare or
// discharge is outstanding. The coordinator link is (re)built when absent or
// closed; link-build failures surface as the begin failure and bind nothing.
// On declare success the identity and both cached delivery states are bound
// before request resolves.
func (tc *TransactionContext) Begin(ctx context.Context, id *TxnID, request Completion) {
	ctx, corr := tc.exchangeContext(ctx)
	if tc.phase != phaseIdle {
		tc.logger.Debug("txn.begin.rejected", "txn", id.String(), "phase", tc.phase.String())
		request.Fail(Failure{Code: FailureIllegalState, Detail: "begin while a transaction is still active"})
		return
	}
	if id == nil {
		request.Fail(Failure{Code: FailureIllegalState, Detail: "begin requires a transaction id"})
		return
	}
	tc.phase = phaseDeclaring
	if tc.coordinator == nil || tc.coordinator.Closed() {
		tc.logger.Trace("txn.link.build", "txn", id.String(), "correlation_id", corr)
		tc.builder.Build(ctx, func(link CoordinatorLink, err error) {
			if err != nil {
				tc.phase = phaseIdle
				tc.logger.Warn("txn.link.build_failed", "txn", id.String(), "error", err)
				request.Fail(err)
				return
			}
			tc.coordinator = link
			tc.logger.Debug("txn.link.ready", "txn", id.String())
			tc.declare(ctx, id, request)
		})
		return
	}
	tc.declare(ctx, id, request)
}

// Commit resolves the transaction named by info with a commit intent. The
// discharge is deferred while tracked sends are outstanding, and any failed
// send forces the transaction to roll back instead, failing request with a
// rolled-back Failure.
func (tc *TransactionContext) Commit(ctx context.Context, info TxnInfo, request Completion) {
	tc.resolveTxn(ctx, info, request, true)
}

// Rollback resolves the transaction named by info with a rollback intent.
// Rolling back an in-doubt transaction succeeds immediately without a
// discharge exchange.
func (tc *TransactionContext) Rollback(ctx context.Context, info TxnInfo, request Completion) {
	tc.resolveTxn(ctx, info, request, false)
}

func (tc *TransactionContext) resolveTxn(ctx context.Context, info TxnInfo, request Completion, commit bool) {
	ctx, _ = tc.exchangeContext(ctx)
	op := "rollback"
	if commit {
		op = "commit"
	}
	if info.InDoubt {
		tc.resolveInDoubt(ctx, info, request, commit)
		return
	}
	if tc.current == nil {
		request.Fail(Failure{Code: FailureIllegalState, Detail: op + " with no active transaction"})
		return
	}
	if !info.ID.Equal(tc.current) {
		request.Fail(Failure{Code: FailureIllegalState, Detail: op + " of a transaction other than the current one"})
		return
	}
	if tc.phase != phaseActive {
		request.Fail(Failure{Code: FailureIllegalState, Detail: op + " while a discharge is already in progress"})
		return
	}
	if tc.TransactionFailed() {
		tc.logger.Warn("txn.resolve.link_closed", "txn", info.ID.String(), "op", op)
		request.Fail(Failure{Code: FailureIllegalState, Detail: "coordinator link closed; resolve the transaction as in doubt"})
		return
	}

	intent := commit
	forced := false
	if tc.sendFailed && intent {
		intent = false
		forced = true
		tc.logger.Warn("txn.discharge.forced_rollback", "txn", info.ID.String(), "reason", "send_failed")
	}
	if intent {
		tc.resources.preCommit()
	} else {
		tc.resources.preRollback()
	}
	tc.phase = phaseDischarging
	if len(tc.pendingSends) > 0 {
		tc.aggregateSends(ctx, request, intent, forced)
		return
	}
	tc.discharge(ctx, request, intent, forced)
}

// resolveInDoubt handles commit/rollback of a transaction the caller marked
// in doubt. No discharge exchange is issued: the remote outcome can never be
// learned. Local state is dropped when the in-doubt identity is the bound
// one so a fresh begin can follow.
func (tc *TransactionContext) resolveInDoubt(ctx context.Context, info TxnInfo, request Completion, commit bool) {
	matched := tc.current != nil && info.ID.Equal(tc.current)
	if matched {
		tc.cleanup(false)
	}
	if commit {
		if matched {
			tc.metrics.recordOutcome(ctx, "in_doubt")
		}
		tc.logger.Warn("txn.commit.in_doubt", "txn", info.ID.String(), "matched", matched)
		request.Fail(Failure{Code: FailureRolledBack, Detail: "transaction is in doubt and cannot have committed"})
		return
	}
	if matched {
		tc.metrics.recordOutcome(ctx, "rolled_back")
	}
	tc.logger.Debug("txn.rollback.in_doubt", "txn", info.ID.String(), "matched", matched)
	request.Complete()
}

// RegisterTxnConsumer enrolls consumer in the active transaction. Enrollment
// is idempotent per consumer identity and lasts until the transaction is
// resolved.
func (tc *TransactionContext) RegisterTxnConsumer(consumer TxnConsumer) {
	if tc.resources.addConsumer(consumer) {
		tc.logger.Trace("txn.consumer.enrolled", "consumer", consumer.ConsumerID(), "txn", tc.current.String())
	}
}

// RegisterTxnProducer enrolls producer in the active transaction. Enrollment
// is idempotent per producer identity and lasts until the transaction is
// resolved.
func (tc *TransactionContext) RegisterTxnProducer(producer TxnProducer) {
	if tc.resources.addProducer(producer) {
		tc.logger.Trace("txn.producer.enrolled", "producer", producer.ProducerID(), "txn", tc.current.String())
	}
}

// ConsumerInTransaction reports whether the consumer with the given identity
// is enrolled in the current transaction.
func (tc *TransactionContext) ConsumerInTransaction(id string) bool {
	return tc.resources.hasConsumer(id)
}

// ProducerInTransaction reports whether the producer with the given identity
// is enrolled in the current transaction.
func (tc *TransactionContext) ProducerInTransaction(id string) bool {
	return tc.resources.hasProducer(id)
}

// TransactionFailed reports whether a coordinator link exists and has
// closed. The coordinator slot is never cleared, so the question stays
// answerable after closure; callers use it to decide whether to resolve the
// current transaction as in doubt.
func (tc *TransactionContext) TransactionFailed() bool {
	return tc.coordinator != nil && tc.coordinator.Closed()
}

// TransactionID returns the bound identity, nil when no transaction is
// active.
func (tc *TransactionContext) TransactionID() *TxnID {
	return tc.current
}

// RemoteTxnID returns the coordinator-assigned identifier of the bound
// transaction, nil when no transaction is active.
func (tc *TransactionContext) RemoteTxnID() []byte {
	return tc.current.Remote()
}

// AcceptedState returns the cached delivery state consumers apply to
// acknowledgments inside the current transaction, nil when no transaction is
// active.
func (tc *TransactionContext) AcceptedState() *api.TransactionalState {
	return tc.accepted
}

// EnrolledState returns the cached delivery state producers attach to
// outgoing transfers inside the current transaction, nil when no transaction
// is active.
func (tc *TransactionContext) EnrolledState() *api.TransactionalState {
	return tc.enrolled
}

func (tc *TransactionContext) declare(ctx context.Context, id *TxnID, request Completion) {
	step := &declareStep{
		tc:      tc,
		ctx:     ctx,
		id:      id,
		request: request,
		started: tc.clk.Now(),
	}
	tc.logger.Trace("txn.declare.sent", "txn", id.String(), "correlation_id", correlation.ID(ctx))
	tc.coordinator.Declare(ctx, id, step)
}

func (tc *TransactionContext) discharge(ctx context.Context, request Completion, commit, forced bool) {
	step := &dischargeStep{
		tc:      tc,
		ctx:     ctx,
		id:      tc.current,
		request: request,
		commit:  commit,
		forced:  forced,
		started: tc.clk.Now(),
	}
	tc.logger.Trace("txn.discharge.sent",
		"txn", tc.current.String(),
		"fail", !commit,
		"correlation_id", correlation.ID(ctx),
	)
	tc.coordinator.Discharge(ctx, tc.current, step, !commit)
}

// cleanup drops the bound identity and cached delivery states, runs the post
// hooks matching the discharged intent, and clears the enrollment registry.
// It runs on every discharge resolution, success or failure, and on in-doubt
// resolution.
func (tc *TransactionContext) cleanup(committed bool) {
	consumers, producers := tc.resources.size()
	tc.current = nil
	tc.accepted = nil
	tc.enrolled = nil
	tc.sendFailed = false
	clear(tc.pendingSends)
	if committed {
		tc.resources.postCommit()
	} else {
		tc.resources.postRollback()
	}
	tc.resources.clear()
	tc.phase = phaseIdle
	tc.logger.Trace("txn.cleanup", "committed", committed, "consumers", consumers, "producers", producers)
}

func (tc *TransactionContext) exchangeContext(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	corr := correlation.ID(ctx)
	if corr == "" {
		corr = correlation.Generate()
		ctx = correlation.Set(ctx, corr)
	}
	return ctx, corr
}

// declareStep resolves a declare exchange. Success binds the identity and
// creates the cached delivery states before the caller sees the resolution;
// failure resets the context to idle so a fresh begin can follow.
type declareStep struct {
	tc      *TransactionContext
	ctx     context.Context
	id      *TxnID
	request Completion
	started time.Time
	done    bool
}

func (s *declareStep) Complete() {
	if s.done {
		return
	}
	s.done = true
	tc := s.tc
	duration := tc.clk.Now().Sub(s.started)
	tc.current = s.id
	tc.accepted = &api.TransactionalState{TxnID: s.id.Remote(), Outcome: api.Accepted()}
	tc.enrolled = &api.TransactionalState{TxnID: s.id.Remote()}
	tc.phase = phaseActive
	tc.metrics.recordDeclare(s.ctx, duration, "ok")
	tc.logger.Debug("txn.declare.ok",
		"txn", s.id.String(),
		"remote", remoteLabel(s.id),
		"duration_ms", duration.Milliseconds(),
	)
	s.request.Complete()
}

func (s *declareStep) Fail(err error) {
	if s.done {
		return
	}
	s.done = true
	tc := s.tc
	duration := tc.clk.Now().Sub(s.started)
	tc.current = nil
	tc.accepted = nil
	tc.enrolled = nil
	tc.phase = phaseIdle
	tc.metrics.recordDeclare(s.ctx, duration, "failed")
	tc.metrics.recordOutcome(s.ctx, "declare_failed")
	tc.logger.Warn("txn.declare.failed", "txn", s.id.String(), "error", err)
	s.request.Fail(err)
}

func (s *declareStep) Completed() bool {
	return s.done
}

// dischargeStep resolves a discharge exchange. Cleanup runs on success and
// on failure alike; the remote outcome only decides what the original caller
// is told afterwards.
type dischargeStep struct {
	tc      *TransactionContext
	ctx     context.Context
	id      *TxnID
	request Completion
	commit  bool
	forced  bool
	started time.Time
	done    bool
}

func (s *dischargeStep) Complete() {
	if s.done {
		return
	}
	s.done = true
	tc := s.tc
	duration := tc.clk.Now().Sub(s.started)
	tc.metrics.recordDischarge(s.ctx, duration, !s.commit, "ok")
	tc.metrics.recordOutcome(s.ctx, dischargeOutcome(s.commit, s.forced))
	tc.logger.Debug("txn.discharge.ok",
		"txn", s.id.String(),
		"fail", !s.commit,
		"duration_ms", duration.Milliseconds(),
	)
	tc.cleanup(s.commit)
	if s.forced {
		s.request.Fail(Failure{Code: FailureRolledBack, Detail: "transaction rolled back: one or more sends failed"})
		return
	}
	s.request.Complete()
}

func (s *dischargeStep) Fail(err error) {
	if s.done {
		return
	}
	s.done = true
	tc := s.tc
	duration := tc.clk.Now().Sub(s.started)
	tc.metrics.recordDischarge(s.ctx, duration, !s.commit, "failed")
	tc.metrics.recordOutcome(s.ctx, "discharge_failed")
	tc.logger.Warn("txn.discharge.failed",
		"txn", s.id.String(),
		"fail", !s.commit,
		"duration_ms", duration.Milliseconds(),
		"error", err,
	)
	tc.cleanup(s.commit)
	s.request.Fail(err)
}

func (s *dischargeStep) Completed() bool {
	return s.done
}

func dischargeOutcome(commit, forced bool) string {
	switch {
	case forced:
		return "rolled_back_forced"
	case commit:
		return "committed"
	default:
		return "rolled_back"
	}
}

func remoteLabel(id *TxnID) string {
	if !id.Bound() {
		return ""
	}
	return fmt.Sprintf("%x", id.Remote())
}
