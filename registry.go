package amqtx

// TxnConsumer is implemented by message consumers that participate in a
// transacted session. The context invokes the hooks around the discharge
// exchange: pre-hooks let the consumer flush pending acknowledgment state
// while the transaction is still addressable, post-hooks let it reset
// delivery state once the outcome is settled.
type TxnConsumer interface {
	// ConsumerID identifies the consumer within its session.
	ConsumerID() string
	PreCommit()
	PostCommit()
	PreRollback()
	PostRollback()
}

// TxnProducer is implemented by message producers that participate in a
// transacted session. Producers carry no hooks; enrollment only marks their
// transfers as part of the transaction's outcome.
type TxnProducer interface {
	// ProducerID identifies the producer within its session.
	ProducerID() string
}

// registry tracks the consumers and producers enrolled in the current
// transaction. It is owned and mutated exclusively by the TransactionContext;
// enrolled resources hold only their own identity.
type registry struct {
	consumers map[string]TxnConsumer
	producers map[string]TxnProducer
}

func newRegistry() *registry {
	return &registry{
		consumers: make(map[string]TxnConsumer),
		producers: make(map[string]TxnProducer),
	}
}

func (r *registry) addConsumer(c TxnConsumer) bool {
	if c == nil {
		return false
	}
	id := c.ConsumerID()
	if _, ok := r.consumers[id]; ok {
		return false
	}
	r.consumers[id] = c
	return true
}

func (r *registry) addProducer(p TxnProducer) bool {
	if p == nil {
		return false
	}
	id := p.ProducerID()
	if _, ok := r.producers[id]; ok {
		return false
	}
	r.producers[id] = p
	return true
}

func (r *registry) hasConsumer(id string) bool {
	_, ok := r.consumers[id]
	return ok
}

func (r *registry) hasProducer(id string) bool {
	_, ok := r.producers[id]
	return ok
}

func (r *registry) preCommit() {
	for _, c := range r.consumers {
		c.PreCommit()
	}
}

func (r *registry) postCommit() {
	for _, c := range r.consumers {
		c.PostCommit()
	}
}

func (r *registry) preRollback() {
	for _, c := range r.consumers {
		c.PreRollback()
	}
}

func (r *registry) postRollback() {
	for _, c := range r.consumers {
		c.PostRollback()
	}
}

func (r *registry) clear() {
	clear(r.consumers)
	clear(r.producers)
}

func (r *registry) size() (consumers, producers int) {
	return len(r.consumers), len(r.producers)
}
