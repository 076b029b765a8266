// Package amqtx is the transactional-session coordination layer of a
// wire-protocol messaging client. It owns the lifecycle of a transaction
// against a remote transaction coordinator reachable over an asynchronous
// link — declare on begin, discharge on commit or rollback — and enforces
// all-or-nothing semantics for the producers and consumers enrolled in that
// transaction. The link machinery that physically moves frames stays
// outside; it plugs in through the CoordinatorLink and LinkBuilder
// contracts.
//
// Copyright (C) 2025 Michel Blomgren <https://pkt.systems>
//
// # Running a transaction
//
// A TransactionContext is built per session with the LinkBuilder of the
// underlying connection. Every operation resolves asynchronously through a
// Completion; Latch is the ready-made implementation.
//
//	tc, err := amqtx.New(amqtx.Config{
//	    SessionID: "session-1",
//	    Builder:   builder,
//	    Logger:    logger,
//	})
//	if err != nil { log.Fatal(err) }
//	id := amqtx.NewTxnID()
//	begin := amqtx.NewLatch()
//	tc.Begin(ctx, id, begin)
//	// ... drive the link until begin.Completed() ...
//	commit := amqtx.NewLatch()
//	tc.Commit(ctx, amqtx.TxnInfo{ID: id}, commit)
//
// Begin lazily (re)attaches the coordinator link when it is absent or
// closed. Declare success binds the identity and creates two cached delivery
// states: AcceptedState, which consumers apply to acknowledgments, and
// EnrolledState, which producers attach to outgoing transfers. Both exist
// exactly while a transaction is bound.
//
// # Enrollment
//
// Consumers and producers join the active transaction through
// RegisterTxnConsumer and RegisterTxnProducer, keyed by their identity.
// Consumer hooks run around the discharge exchange: PreCommit/PreRollback
// before it is issued, PostCommit/PostRollback after it resolves, followed
// by the registry being cleared. Cleanup is unconditional — it runs whether
// the remote accepted or rejected the discharge, so the context always
// returns to idle.
//
// # Send aggregation
//
// Producers inside a transaction register each unsettled transfer with
// TrackPendingSend. When commit or rollback is requested while sends are
// still outstanding, the discharge waits for the last settlement, and a
// single failed send anywhere in the transaction forces the discharge to
// carry the rollback intent. A commit that was forced to roll back fails its
// completion with a rolled-back Failure.
//
// # Failure and in-doubt transactions
//
// Errors carry a Failure code callers branch on with IsIllegalState,
// IsRolledBack, and IsLinkClosed. When the coordinator link closes while a
// transaction is bound, the transaction is in doubt: TransactionFailed
// reports it, commit of the in-doubt transaction fails with a rolled-back
// Failure, and rollback succeeds immediately — neither issues a discharge on
// the dead link. Declare and discharge failures reported by the remote
// propagate verbatim to the original caller's completion. Nothing in this
// layer retries; callers that want retry semantics re-invoke begin, commit,
// or rollback themselves.
//
// # Threading model
//
// The context is single-threaded and cooperative, in the style of a
// connection-owned event loop: every context method, link resolution, and
// builder continuation must run on the session's processing goroutine. The
// package takes no locks and imposes no deadlines; ordering is call order.
// The loopback package provides an in-process coordinator whose deliveries
// are stepped from exactly that goroutine.
//
// # Presettlement
//
// PresettlePolicy decides, outside of any transaction state, which
// producers and consumers skip the settlement round-trip. Consumers in
// transacted sessions never presettle, since their acknowledgments must stay
// retractable until discharge.
package amqtx
