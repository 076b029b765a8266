// Package loopback provides an in-process transaction coordinator for
// driving the transaction layer without a broker. Declare and discharge
// exchanges queue inside the coordinator and resolve when the driving code
// steps delivery, which keeps every interleaving deterministic; AutoDeliver
// collapses the stepping for callers that only care about outcomes.
//
// The package honors the transaction layer's threading contract: nothing
// here spawns goroutines or takes locks. Deliver, DeliverAll, and every
// completion they resolve run on the caller's goroutine.
package loopback

import (
	"fmt"
	"strconv"
	"time"

	"pkt.systems/amqtx"
	"pkt.systems/amqtx/api"
	"pkt.systems/amqtx/internal/clock"
	"pkt.systems/amqtx/internal/svcfields"
	"pkt.systems/pslog"
)

// Exchange kinds recorded in the coordinator journal.
const (
	ExchangeDeclare   = "declare"
	ExchangeDischarge = "discharge"
)

// Config configures a Coordinator.
type Config struct {
	// Logger receives structured events. Defaults to pslog.NoopLogger().
	Logger pslog.Logger
	// Clock timestamps journal entries. Defaults to clock.Real.
	Clock clock.Clock
	// AutoDeliver resolves exchanges synchronously as they are issued
	// instead of queueing them for Deliver.
	AutoDeliver bool
	// Capabilities advertised to attaching links. Defaults to
	// api.CapabilityLocalTransactions.
	Capabilities []string
}

// Coordinator is an in-process transaction coordinator endpoint. It
// allocates transaction identifiers, validates discharges against the set of
// live transactions, and records every resolved exchange in a journal that
// tests and the simulator assert against.
type Coordinator struct {
	logger       pslog.Logger
	clk          clock.Clock
	autoDeliver  bool
	capabilities []string

	nextTxn    uint64
	active     map[string]struct{}
	queue      []*exchange
	journal    []Exchange
	linksBuilt int
	current    *Link

	failAttach    error
	failDeclare   error
	failDischarge error
}

// Exchange is one resolved protocol exchange as the coordinator saw it.
type Exchange struct {
	// Kind is ExchangeDeclare or ExchangeDischarge.
	Kind string
	// TxnID is the coordinator-assigned transaction identifier the exchange
	// touched. Empty for declares that never allocated one.
	TxnID string
	// Fail records the discharge intent; true requested a rollback.
	Fail bool
	// CorrelationID ties the exchange back to the issuing operation.
	CorrelationID string
	// Err is the failure the exchange resolved with, empty on success.
	Err string
	// At is the delivery time.
	At time.Time
}

// New constructs a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = []string{api.CapabilityLocalTransactions}
	}
	return &Coordinator{
		logger:       svcfields.WithSubsystem(logger, "txn.loopback"),
		clk:          clk,
		autoDeliver:  cfg.AutoDeliver,
		capabilities: caps,
		active:       make(map[string]struct{}),
	}
}

// Target describes the coordinator as an attach target.
func (c *Coordinator) Target() api.Coordinator {
	return api.Coordinator{Capabilities: append([]string(nil), c.capabilities...)}
}

// Builder returns an amqtx.LinkBuilder producing links attached to this
// coordinator.
func (c *Coordinator) Builder() *Builder {
	return &Builder{c: c}
}

// FailNextAttach makes the next link build fail with err.
func (c *Coordinator) FailNextAttach(err error) {
	c.failAttach = err
}

// FailNextDeclare makes the next declare delivery resolve with err.
func (c *Coordinator) FailNextDeclare(err error) {
	c.failDeclare = err
}

// FailNextDischarge makes the next discharge delivery resolve with err.
func (c *Coordinator) FailNextDischarge(err error) {
	c.failDischarge = err
}

// PendingExchanges returns the number of queued, undelivered exchanges.
func (c *Coordinator) PendingExchanges() int {
	return len(c.queue)
}

// ActiveTransactions returns the number of declared, undischarged
// transactions, including those stranded by closed links.
func (c *Coordinator) ActiveTransactions() int {
	return len(c.active)
}

// LinksBuilt returns how many links have attached.
func (c *Coordinator) LinksBuilt() int {
	return c.linksBuilt
}

// CurrentLink returns the most recently attached link, or nil before the
// first attach. Closing it simulates a remote detach.
func (c *Coordinator) CurrentLink() *Link {
	return c.current
}

// Journal returns a copy of the resolved exchanges in delivery order.
func (c *Coordinator) Journal() []Exchange {
	return append([]Exchange(nil), c.journal...)
}

// Deliver resolves up to n queued exchanges in order and reports how many
// resolved. Completions and everything they trigger execute before Deliver
// returns.
func (c *Coordinator) Deliver(n int) int {
	delivered := 0
	for delivered < n && len(c.queue) > 0 {
		ex := c.queue[0]
		c.queue = c.queue[1:]
		c.resolveExchange(ex)
		delivered++
	}
	return delivered
}

// DeliverAll resolves queued exchanges until the queue drains, including
// exchanges enqueued by the resolutions themselves.
func (c *Coordinator) DeliverAll() int {
	total := 0
	for len(c.queue) > 0 {
		total += c.Deliver(1)
	}
	return total
}

func (c *Coordinator) enqueue(ex *exchange) {
	if c.autoDeliver {
		c.resolveExchange(ex)
		return
	}
	c.queue = append(c.queue, ex)
}

func (c *Coordinator) resolveExchange(ex *exchange) {
	switch ex.kind {
	case ExchangeDeclare:
		c.resolveDeclare(ex)
	case ExchangeDischarge:
		c.resolveDischarge(ex)
	}
}

func (c *Coordinator) resolveDeclare(ex *exchange) {
	entry := Exchange{Kind: ExchangeDeclare, CorrelationID: ex.corr, At: c.clk.Now()}
	if ex.link.closed {
		err := amqtx.Failure{Code: amqtx.FailureLinkClosed, Detail: "link closed before declare resolved"}
		entry.Err = err.Error()
		c.journal = append(c.journal, entry)
		c.logger.Debug("loopback.declare.dropped", "link", ex.link.name, "error", err)
		ex.completion.Fail(err)
		return
	}
	if err := takeFailure(&c.failDeclare); err != nil {
		entry.Err = err.Error()
		c.journal = append(c.journal, entry)
		c.logger.Debug("loopback.declare.rejected", "link", ex.link.name, "error", err)
		ex.completion.Fail(err)
		return
	}
	c.nextTxn++
	remote := []byte("txn-" + strconv.FormatUint(c.nextTxn, 10))
	c.active[string(remote)] = struct{}{}
	ex.id.BindRemote(remote)
	entry.TxnID = string(remote)
	c.journal = append(c.journal, entry)
	c.logger.Trace("loopback.declare.ok",
		"link", ex.link.name,
		"txn", entry.TxnID,
		"correlation_id", ex.corr,
	)
	ex.completion.Complete()
}

func (c *Coordinator) resolveDischarge(ex *exchange) {
	remote := string(ex.id.Remote())
	entry := Exchange{Kind: ExchangeDischarge, TxnID: remote, Fail: ex.fail, CorrelationID: ex.corr, At: c.clk.Now()}
	if ex.link.closed {
		err := amqtx.Failure{Code: amqtx.FailureLinkClosed, Detail: "link closed before discharge resolved"}
		entry.Err = err.Error()
		c.journal = append(c.journal, entry)
		c.logger.Debug("loopback.discharge.dropped", "link", ex.link.name, "txn", remote, "error", err)
		ex.completion.Fail(err)
		return
	}
	if err := takeFailure(&c.failDischarge); err != nil {
		entry.Err = err.Error()
		c.journal = append(c.journal, entry)
		c.logger.Debug("loopback.discharge.rejected", "link", ex.link.name, "txn", remote, "error", err)
		ex.completion.Fail(err)
		return
	}
	if _, ok := c.active[remote]; !ok {
		err := amqtx.Failure{Code: "unknown_txn", Detail: fmt.Sprintf("discharge for unknown transaction %q", remote)}
		entry.Err = err.Error()
		c.journal = append(c.journal, entry)
		c.logger.Debug("loopback.discharge.unknown", "link", ex.link.name, "txn", remote)
		ex.completion.Fail(err)
		return
	}
	delete(c.active, remote)
	c.journal = append(c.journal, entry)
	c.logger.Trace("loopback.discharge.ok",
		"link", ex.link.name,
		"txn", remote,
		"fail", ex.fail,
		"correlation_id", ex.corr,
	)
	ex.completion.Complete()
}

func takeFailure(slot *error) error {
	err := *slot
	*slot = nil
	return err
}
