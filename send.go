package amqtx

import "context"

// TrackPendingSend registers an outstanding transactional producer send with
// the current transaction and returns the completion the transport resolves
// when the transfer settles. Only legal while a transaction is active; the
// producer send path holds that knowledge.
//
// Sends settled before the transaction is resolved simply leave the pending
// set, with failures remembered against the eventual commit. Sends still
// outstanding when Commit or Rollback is called are aggregated into the
// discharge decision: the discharge waits for the last settlement, and one
// failed send anywhere forces the transaction to roll back.
func (tc *TransactionContext) TrackPendingSend() Completion {
	s := &pendingSend{tc: tc}
	tc.pendingSends[s] = struct{}{}
	tc.logger.Trace("txn.send.tracked", "txn", tc.current.String(), "pending", len(tc.pendingSends))
	return s
}

// pendingSend is the per-send completion handed to the transport. Until a
// discharge decision is made it settles against the context; once aggregated
// it settles against the sendCompletion that owns the decision.
type pendingSend struct {
	tc   *TransactionContext
	agg  *sendCompletion
	done bool
}

func (s *pendingSend) Complete() {
	s.settle(nil)
}

func (s *pendingSend) Fail(err error) {
	if err == nil {
		err = Failure{Code: "send_failed", Detail: "send failed without a cause"}
	}
	s.settle(err)
}

func (s *pendingSend) Completed() bool {
	return s.done
}

func (s *pendingSend) settle(err error) {
	if s.done {
		return
	}
	s.done = true
	if s.agg != nil {
		s.agg.settled(err)
		return
	}
	s.tc.sendSettled(s, err)
}

func (tc *TransactionContext) sendSettled(s *pendingSend, err error) {
	if _, ok := tc.pendingSends[s]; !ok {
		// The transaction was already resolved; the settlement is stale.
		return
	}
	delete(tc.pendingSends, s)
	if err != nil {
		tc.sendFailed = true
		tc.logger.Debug("txn.send.failed",
			"txn", tc.current.String(),
			"pending", len(tc.pendingSends),
			"error", err,
		)
		return
	}
	tc.logger.Trace("txn.send.settled", "txn", tc.current.String(), "pending", len(tc.pendingSends))
}

// sendCompletion aggregates the sends still outstanding when a discharge
// decision is made. Every aggregated send resolves it exactly once; the last
// resolution issues the discharge with the surviving intent.
type sendCompletion struct {
	tc      *TransactionContext
	ctx     context.Context
	request Completion
	pending int
	commit  bool
	forced  bool
	done    bool
}

func (tc *TransactionContext) aggregateSends(ctx context.Context, request Completion, commit, forced bool) {
	agg := &sendCompletion{
		tc:      tc,
		ctx:     ctx,
		request: request,
		pending: len(tc.pendingSends),
		commit:  commit,
		forced:  forced,
	}
	for s := range tc.pendingSends {
		s.agg = agg
	}
	clear(tc.pendingSends)
	tc.metrics.recordAggregatedSends(ctx, agg.pending)
	tc.logger.Debug("txn.sends.aggregated",
		"txn", tc.current.String(),
		"pending", agg.pending,
		"commit", agg.commit,
	)
}

func (agg *sendCompletion) settled(err error) {
	if agg.done {
		return
	}
	agg.pending--
	if err != nil && agg.commit {
		agg.commit = false
		agg.forced = true
		agg.tc.logger.Warn("txn.discharge.forced_rollback",
			"txn", agg.tc.current.String(),
			"reason", "send_failed",
			"error", err,
		)
	}
	if agg.pending > 0 {
		return
	}
	agg.done = true
	agg.tc.discharge(agg.ctx, agg.request, agg.commit, agg.forced)
}
