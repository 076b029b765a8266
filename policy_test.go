package amqtx

import "testing"

func TestDestinationKinds(t *testing.T) {
	q := Queue("orders")
	if !q.IsQueue() || q.IsTopic() {
		t.Fatal("Queue() did not produce a queue destination")
	}
	tp := Topic("prices")
	if tp.IsQueue() || !tp.IsTopic() {
		t.Fatal("Topic() did not produce a topic destination")
	}
}

func TestProducerPresettled(t *testing.T) {
	cases := []struct {
		name       string
		policy     PresettlePolicy
		dest       Destination
		transacted bool
		want       bool
	}{
		{"zero policy presettles nothing", PresettlePolicy{}, Queue("q"), false, false},
		{"all overrides everything", PresettlePolicy{All: true}, nil, false, true},
		{"producers flag", PresettlePolicy{Producers: true}, Topic("t"), false, true},
		{"queue producers on queue", PresettlePolicy{QueueProducers: true}, Queue("q"), false, true},
		{"queue producers on topic", PresettlePolicy{QueueProducers: true}, Topic("t"), false, false},
		{"topic producers on topic", PresettlePolicy{TopicProducers: true}, Topic("t"), false, true},
		{"transacted producers outside txn", PresettlePolicy{TransactedProducers: true}, Queue("q"), false, false},
		{"transacted producers inside txn", PresettlePolicy{TransactedProducers: true}, Queue("q"), true, true},
		{"transacted producers anonymous dest", PresettlePolicy{TransactedProducers: true}, nil, true, true},
		{"anonymous dest needs blanket flag", PresettlePolicy{QueueProducers: true, TopicProducers: true}, nil, false, false},
	}
	for _, tc := range cases {
		if got := tc.policy.ProducerPresettled(tc.dest, tc.transacted); got != tc.want {
			t.Fatalf("%s: ProducerPresettled = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestConsumerPresettled(t *testing.T) {
	cases := []struct {
		name       string
		policy     PresettlePolicy
		dest       Destination
		transacted bool
		want       bool
	}{
		{"zero policy presettles nothing", PresettlePolicy{}, Queue("q"), false, false},
		{"all flag", PresettlePolicy{All: true}, Queue("q"), false, true},
		{"consumers flag", PresettlePolicy{Consumers: true}, Topic("t"), false, true},
		{"queue consumers on queue", PresettlePolicy{QueueConsumers: true}, Queue("q"), false, true},
		{"topic consumers on queue", PresettlePolicy{TopicConsumers: true}, Queue("q"), false, false},
		{"anonymous dest needs blanket flag", PresettlePolicy{QueueConsumers: true}, nil, false, false},
	}
	for _, tc := range cases {
		if got := tc.policy.ConsumerPresettled(tc.dest, tc.transacted); got != tc.want {
			t.Fatalf("%s: ConsumerPresettled = %t, want %t", tc.name, got, tc.want)
		}
	}
}

// Acknowledgments inside a transaction must stay retractable until the
// discharge outcome is known, so no flag combination may presettle a
// transacted consumer.
func TestTransactedConsumersNeverPresettle(t *testing.T) {
	everything := PresettlePolicy{
		All:                 true,
		Producers:           true,
		TopicProducers:      true,
		QueueProducers:      true,
		TransactedProducers: true,
		Consumers:           true,
		TopicConsumers:      true,
		QueueConsumers:      true,
	}
	for _, dest := range []Destination{Queue("q"), Topic("t"), nil} {
		if everything.ConsumerPresettled(dest, true) {
			t.Fatalf("transacted consumer presettled for destination %v", dest)
		}
	}
}
