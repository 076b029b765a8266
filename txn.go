package amqtx

import "pkt.systems/amqtx/internal/uuidv7"

// TxnID identifies one transaction across its whole lifecycle. The client
// assigns the time-ordered local identity up front so the transaction can be
// named in logs before the coordinator answers; the coordinator-assigned
// identifier is bound when declare resolves and rides on every transfer and
// disposition that joins the transaction.
type TxnID struct {
	local  string
	remote []byte
}

// NewTxnID allocates a transaction identity with a fresh local part.
func NewTxnID() *TxnID {
	return &TxnID{local: uuidv7.NewString()}
}

// String returns the client-assigned local identity. Safe on nil.
func (id *TxnID) String() string {
	if id == nil {
		return ""
	}
	return id.local
}

// BindRemote records the coordinator-assigned identifier. Link
// implementations call it when a declare exchange resolves; the slice is
// copied.
func (id *TxnID) BindRemote(remote []byte) {
	if id == nil {
		return
	}
	id.remote = append([]byte(nil), remote...)
}

// Remote returns the coordinator-assigned identifier, nil before declare.
func (id *TxnID) Remote() []byte {
	if id == nil {
		return nil
	}
	return id.remote
}

// Bound reports whether a coordinator-assigned identifier has been bound.
func (id *TxnID) Bound() bool {
	return id != nil && len(id.remote) > 0
}

// Equal reports whether both identities name the same transaction. Equality
// is by local identity; nil equals only nil.
func (id *TxnID) Equal(other *TxnID) bool {
	if id == nil || other == nil {
		return id == other
	}
	return id.local == other.local
}

// TxnInfo is the caller-facing view of a transaction handed to Commit and
// Rollback: the identity plus the caller's belief about whether the
// transaction is already in doubt. Callers that observed TransactionFailed
// set InDoubt before resolving the transaction.
type TxnInfo struct {
	ID      *TxnID
	InDoubt bool
}
