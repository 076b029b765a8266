package amqtx

import "testing"

func TestNewTxnIDAssignsLocalIdentity(t *testing.T) {
	one := NewTxnID()
	two := NewTxnID()
	if one.String() == "" {
		t.Fatal("local identity is empty")
	}
	if one.String() == two.String() {
		t.Fatalf("identities collide: %s", one)
	}
	if one.Bound() || one.Remote() != nil {
		t.Fatal("fresh identity claims a coordinator-assigned id")
	}
}

func TestBindRemoteCopiesSlice(t *testing.T) {
	id := NewTxnID()
	remote := []byte("txn-42")
	id.BindRemote(remote)
	remote[0] = 'X'
	if got := string(id.Remote()); got != "txn-42" {
		t.Fatalf("remote = %q, caller mutation leaked in", got)
	}
	if !id.Bound() {
		t.Fatal("Bound() = false after BindRemote")
	}
}

func TestTxnIDEqual(t *testing.T) {
	one := NewTxnID()
	two := NewTxnID()
	if !one.Equal(one) {
		t.Fatal("identity not equal to itself")
	}
	if one.Equal(two) {
		t.Fatal("distinct identities compare equal")
	}

	// Binding a remote id does not change identity.
	bound := NewTxnID()
	same := &TxnID{local: bound.local}
	bound.BindRemote([]byte("txn-1"))
	if !bound.Equal(same) {
		t.Fatal("remote binding changed equality")
	}

	var nilID *TxnID
	if nilID.Equal(one) || one.Equal(nil) {
		t.Fatal("nil compared equal to a real identity")
	}
	if !nilID.Equal(nil) {
		t.Fatal("nil not equal to nil")
	}
}

func TestTxnIDNilSafety(t *testing.T) {
	var id *TxnID
	if id.String() != "" {
		t.Fatal("nil String() not empty")
	}
	if id.Remote() != nil {
		t.Fatal("nil Remote() not nil")
	}
	if id.Bound() {
		t.Fatal("nil Bound() not false")
	}
	id.BindRemote([]byte("txn-1"))
}
