package amqtx

import "context"

// CoordinatorLink is the declare/discharge surface of an attached
// transaction coordinator link. Exchanges resolve asynchronously through the
// supplied Completion; implementations bind the coordinator-assigned
// identifier onto the TxnID before resolving a declare. The context carries
// correlation metadata only; this layer never imposes deadlines on protocol
// exchanges.
type CoordinatorLink interface {
	// Declare requests a new transaction from the coordinator.
	Declare(ctx context.Context, id *TxnID, completion Completion)
	// Discharge retires the transaction. Fail requests a rollback; commit
	// otherwise.
	Discharge(ctx context.Context, id *TxnID, completion Completion, fail bool)
	// Closed reports whether the link has detached. Closure while a
	// transaction is bound puts that transaction in doubt.
	Closed() bool
}

// LinkBuilder provisions coordinator links on demand. Build invokes done
// exactly once on the session's processing goroutine, either with an open
// link or with the attach failure. The receiver of the link owns it from
// that point on.
type LinkBuilder interface {
	Build(ctx context.Context, done func(link CoordinatorLink, err error))
}
