// Package api defines the transport-neutral shapes of the transaction
// coordinator protocol: the declare/discharge exchange bodies, the delivery
// states that enroll transfers and acknowledgments in a transaction, and the
// capabilities a coordinator target advertises. Link implementations map
// these onto their wire encoding.
package api

// Coordinator capabilities a transaction coordinator target can advertise.
const (
	// CapabilityLocalTransactions advertises support for transactions local
	// to one connection.
	CapabilityLocalTransactions = "local-transactions"
	// CapabilityDistributedTransactions advertises support for transactions
	// spanning connections, identified by a caller-supplied global id.
	CapabilityDistributedTransactions = "distributed-transactions"
	// CapabilityMultiTxnsPerSession advertises support for several
	// transactions being active on one session at a time.
	CapabilityMultiTxnsPerSession = "multi-txns-per-ssn"
)

// Outcome kinds applied to deliveries when a transaction is discharged.
const (
	// OutcomeAccepted marks a delivery as consumed.
	OutcomeAccepted = "accepted"
	// OutcomeRejected marks a delivery as invalid at the target.
	OutcomeRejected = "rejected"
	// OutcomeReleased returns a delivery undelivered.
	OutcomeReleased = "released"
)

// Coordinator describes the target a coordinator link attaches to.
type Coordinator struct {
	// Capabilities enumerates the transaction models the target supports.
	Capabilities []string `json:"capabilities,omitempty"`
}

// Declare requests a new transaction from the coordinator.
type Declare struct {
	// GlobalID carries a caller-assigned identity for distributed
	// transactions. Empty for connection-local transactions.
	GlobalID string `json:"global_id,omitempty"`
}

// Declared is the coordinator's answer to a successful Declare.
type Declared struct {
	// TxnID is the coordinator-assigned transaction identifier. The bytes
	// are opaque to the client and echoed verbatim on every transactional
	// delivery state and on the final Discharge.
	TxnID []byte `json:"txn_id"`
}

// Discharge ends a transaction with a commit-or-rollback intent.
type Discharge struct {
	// TxnID names the transaction being retired.
	TxnID []byte `json:"txn_id"`
	// Fail requests a rollback when true; commit otherwise.
	Fail bool `json:"fail,omitempty"`
}

// Outcome is a terminal delivery outcome.
type Outcome struct {
	// Kind is one of the Outcome* constants.
	Kind string `json:"kind"`
	// Condition carries the error condition for rejected deliveries.
	Condition string `json:"condition,omitempty"`
	// Description augments Condition with human-readable detail.
	Description string `json:"description,omitempty"`
}

// Accepted returns the accepted outcome applied to transactional
// acknowledgments.
func Accepted() *Outcome {
	return &Outcome{Kind: OutcomeAccepted}
}

// TransactionalState associates a delivery with an active transaction.
type TransactionalState struct {
	// TxnID names the transaction the delivery belongs to.
	TxnID []byte `json:"txn_id"`
	// Outcome is the terminal outcome applied under the transaction. Nil
	// when the state merely enrolls an outgoing transfer.
	Outcome *Outcome `json:"outcome,omitempty"`
}

// ErrorInfo mirrors the error a coordinator attaches to a failed exchange.
type ErrorInfo struct {
	// Condition is the symbolic protocol error condition.
	Condition string `json:"condition"`
	// Description augments Condition with human-readable detail.
	Description string `json:"description,omitempty"`
}
