package amqtx

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureError(t *testing.T) {
	f := Failure{Code: FailureIllegalState, Detail: "begin while a transaction is still active"}
	if got, want := f.Error(), "illegal_state: begin while a transaction is still active"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	bare := Failure{Code: FailureLinkClosed}
	if got := bare.Error(); got != "link_closed" {
		t.Fatalf("Error() = %q, want %q", got, "link_closed")
	}
}

func TestFailurePredicates(t *testing.T) {
	cases := []struct {
		err        error
		illegal    bool
		rolledBack bool
		linkClosed bool
	}{
		{Failure{Code: FailureIllegalState, Detail: "x"}, true, false, false},
		{Failure{Code: FailureRolledBack}, false, true, false},
		{Failure{Code: FailureLinkClosed}, false, false, true},
		{Failure{Code: "unknown_txn"}, false, false, false},
		{errors.New("plain error"), false, false, false},
		{nil, false, false, false},
	}
	for i, tc := range cases {
		if got := IsIllegalState(tc.err); got != tc.illegal {
			t.Fatalf("case %d: IsIllegalState(%v) = %t, want %t", i, tc.err, got, tc.illegal)
		}
		if got := IsRolledBack(tc.err); got != tc.rolledBack {
			t.Fatalf("case %d: IsRolledBack(%v) = %t, want %t", i, tc.err, got, tc.rolledBack)
		}
		if got := IsLinkClosed(tc.err); got != tc.linkClosed {
			t.Fatalf("case %d: IsLinkClosed(%v) = %t, want %t", i, tc.err, got, tc.linkClosed)
		}
	}
}

func TestFailurePredicatesUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("commit txn-1: %w", Failure{Code: FailureRolledBack, Detail: "sends failed"})
	if !IsRolledBack(wrapped) {
		t.Fatal("IsRolledBack did not unwrap the failure")
	}
	if IsIllegalState(wrapped) {
		t.Fatal("IsIllegalState matched the wrong code through a wrapper")
	}
}
