package loopback

import (
	"context"
	"strings"

	"github.com/rs/xid"

	"pkt.systems/amqtx"
	"pkt.systems/amqtx/internal/correlation"
)

// Builder attaches links to its Coordinator. Attach failures injected with
// FailNextAttach surface through the build continuation.
type Builder struct {
	c *Coordinator
}

// Build attaches a new coordinator link. The continuation runs synchronously
// on the caller's goroutine.
func (b *Builder) Build(ctx context.Context, done func(amqtx.CoordinatorLink, error)) {
	c := b.c
	if err := takeFailure(&c.failAttach); err != nil {
		c.logger.Debug("loopback.attach.rejected", "error", err)
		done(nil, err)
		return
	}
	link := &Link{c: c, name: "txn-coordinator-" + xid.New().String()}
	c.linksBuilt++
	c.current = link
	c.logger.Debug("loopback.attach.ok",
		"link", link.name,
		"capabilities", strings.Join(c.capabilities, ","),
		"correlation_id", correlation.ID(ctx),
	)
	done(link, nil)
}

// Link is a coordinator link bound to an in-process Coordinator. Declare and
// discharge enqueue exchanges that resolve when the driving code steps
// delivery, or synchronously under AutoDeliver.
type Link struct {
	c      *Coordinator
	name   string
	closed bool
}

// Name returns the link name assigned at attach.
func (l *Link) Name() string {
	return l.name
}

// Declare requests a new transaction. The completion resolves at delivery
// with the coordinator-assigned identifier bound onto id.
func (l *Link) Declare(ctx context.Context, id *amqtx.TxnID, completion amqtx.Completion) {
	if l.closed {
		completion.Fail(amqtx.Failure{Code: amqtx.FailureLinkClosed, Detail: "declare on closed link"})
		return
	}
	l.c.enqueue(&exchange{
		kind:       ExchangeDeclare,
		link:       l,
		id:         id,
		completion: completion,
		corr:       correlation.ID(ctx),
	})
}

// Discharge retires the transaction; fail requests a rollback. The
// completion resolves at delivery.
func (l *Link) Discharge(ctx context.Context, id *amqtx.TxnID, completion amqtx.Completion, fail bool) {
	if l.closed {
		completion.Fail(amqtx.Failure{Code: amqtx.FailureLinkClosed, Detail: "discharge on closed link"})
		return
	}
	l.c.enqueue(&exchange{
		kind:       ExchangeDischarge,
		link:       l,
		id:         id,
		fail:       fail,
		completion: completion,
		corr:       correlation.ID(ctx),
	})
}

// Closed reports whether the link has detached.
func (l *Link) Closed() bool {
	return l.closed
}

// Close simulates a remote detach. Exchanges already queued resolve with a
// link-closed failure when delivered; transactions declared over the link
// stay allocated on the coordinator, stranded the way a real coordinator
// strands transactions whose client vanished mid-flight.
func (l *Link) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.c.logger.Debug("loopback.link.closed", "link", l.name)
}

type exchange struct {
	kind       string
	link       *Link
	id         *amqtx.TxnID
	fail       bool
	completion amqtx.Completion
	corr       string
}
