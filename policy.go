package amqtx

// Destination describes the addressing kind of a message source or target.
// Implementations outside this package can satisfy it directly; Queue and
// Topic cover the common cases.
type Destination interface {
	IsQueue() bool
	IsTopic() bool
}

type queueDest string

func (queueDest) IsQueue() bool { return true }
func (queueDest) IsTopic() bool { return false }

func (q queueDest) String() string { return string(q) }

type topicDest string

func (topicDest) IsQueue() bool { return false }
func (topicDest) IsTopic() bool { return true }

func (t topicDest) String() string { return string(t) }

// Queue returns a queue destination with the given name.
func Queue(name string) Destination {
	return queueDest(name)
}

// Topic returns a topic destination with the given name.
func Topic(name string) Destination {
	return topicDest(name)
}

// PresettlePolicy decides which transfers and acknowledgments skip the
// confirmation round-trip. It is a pure predicate over the destination kind
// and the session's transacted flag; the zero value presettles nothing.
type PresettlePolicy struct {
	// All presettles every producer and consumer regardless of the other
	// flags.
	All bool
	// Producers presettles every producer.
	Producers bool
	// TopicProducers presettles producers sending to topics.
	TopicProducers bool
	// QueueProducers presettles producers sending to queues.
	QueueProducers bool
	// TransactedProducers presettles producers operating inside a
	// transacted session.
	TransactedProducers bool
	// Consumers presettles every consumer outside transacted sessions.
	Consumers bool
	// TopicConsumers presettles consumers receiving from topics.
	TopicConsumers bool
	// QueueConsumers presettles consumers receiving from queues.
	QueueConsumers bool
}

// ProducerPresettled reports whether a producer sending to dest should
// presettle its transfers. A nil dest describes an anonymous producer, which
// only the blanket flags can presettle.
func (p PresettlePolicy) ProducerPresettled(dest Destination, transacted bool) bool {
	if p.All || p.Producers {
		return true
	}
	if transacted && p.TransactedProducers {
		return true
	}
	if dest == nil {
		return false
	}
	if dest.IsQueue() && p.QueueProducers {
		return true
	}
	if dest.IsTopic() && p.TopicProducers {
		return true
	}
	return false
}

// ConsumerPresettled reports whether a consumer receiving from dest should
// presettle its deliveries. Consumers in transacted sessions never
// presettle: each delivery's acknowledgment must remain retractable until
// discharge.
func (p PresettlePolicy) ConsumerPresettled(dest Destination, transacted bool) bool {
	if transacted {
		return false
	}
	if p.All || p.Consumers {
		return true
	}
	if dest == nil {
		return false
	}
	if dest.IsQueue() && p.QueueConsumers {
		return true
	}
	if dest.IsTopic() && p.TopicConsumers {
		return true
	}
	return false
}
