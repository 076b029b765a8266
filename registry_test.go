package amqtx

import "testing"

func TestRegistryRejectsNilAndDuplicates(t *testing.T) {
	r := newRegistry()
	if r.addConsumer(nil) {
		t.Fatal("nil consumer accepted")
	}
	if r.addProducer(nil) {
		t.Fatal("nil producer accepted")
	}

	c := &hookRecorder{id: "c1"}
	if !r.addConsumer(c) {
		t.Fatal("first consumer rejected")
	}
	if r.addConsumer(c) {
		t.Fatal("duplicate consumer accepted")
	}
	if r.addConsumer(&hookRecorder{id: "c1"}) {
		t.Fatal("second consumer with the same identity accepted")
	}
	if !r.addProducer(testProducer{id: "p1"}) {
		t.Fatal("first producer rejected")
	}
	if r.addProducer(testProducer{id: "p1"}) {
		t.Fatal("duplicate producer accepted")
	}

	consumers, producers := r.size()
	if consumers != 1 || producers != 1 {
		t.Fatalf("size = (%d, %d), want (1, 1)", consumers, producers)
	}
}

func TestRegistryHooksReachEveryConsumer(t *testing.T) {
	r := newRegistry()
	one := &hookRecorder{id: "c1"}
	two := &hookRecorder{id: "c2"}
	r.addConsumer(one)
	r.addConsumer(two)

	r.preCommit()
	r.postCommit()
	r.preRollback()
	r.postRollback()

	want := []string{"pre-commit", "post-commit", "pre-rollback", "post-rollback"}
	for _, rec := range []*hookRecorder{one, two} {
		if len(rec.calls) != len(want) {
			t.Fatalf("consumer %s calls = %v, want %v", rec.id, rec.calls, want)
		}
		for i := range want {
			if rec.calls[i] != want[i] {
				t.Fatalf("consumer %s calls = %v, want %v", rec.id, rec.calls, want)
			}
		}
	}
}

func TestRegistryClear(t *testing.T) {
	r := newRegistry()
	r.addConsumer(&hookRecorder{id: "c1"})
	r.addProducer(testProducer{id: "p1"})
	r.clear()
	if r.hasConsumer("c1") || r.hasProducer("p1") {
		t.Fatal("clear left enrollments behind")
	}
	if !r.addConsumer(&hookRecorder{id: "c1"}) {
		t.Fatal("re-enrollment after clear rejected")
	}
}
