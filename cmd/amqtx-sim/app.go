package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"pkt.systems/amqtx"
	"pkt.systems/amqtx/internal/svcfields"
	"pkt.systems/amqtx/loopback"
	"pkt.systems/pslog"
)

type simConfig struct {
	txns               int
	sends              int
	sendFailureRate    float64
	declareFailureRate float64
	detachRate         float64
	payloadBytes       uint64
	seed               int64
	logLevel           string
	logJSON            bool
}

type simReport struct {
	committed      int
	rolledBack     int
	forcedRollback int
	declareFailed  int
	inDoubt        int

	sendsTracked  int
	sendsSettled  int
	sendsFailed   int
	payloadVolume uint64

	declares   int
	discharges int
	links      int
	stranded   int

	latencies []time.Duration
	wall      time.Duration
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("AMQTX_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "amqtx-sim")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg simConfig

	cmd := &cobra.Command{
		Use:           "amqtx-sim",
		Short:         "amqtx-sim drives transacted sessions against an in-process coordinator and reports outcome counts",
		SilenceErrors: true,
		Example: `
  # 1000 transactions with five sends each, two percent of sends failing
  amqtx-sim --txns 1000 --sends 5 --send-failure-rate 0.02

  # deterministic run with structured logs
  AMQTX_SEED=42 amqtx-sim --log-json --log-level debug

  # make the coordinator misbehave
  amqtx-sim --declare-failure-rate 0.05 --detach-rate 0.01 --payload 4kb
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logger := baseLogger
			level := pslog.InfoLevel
			if parsed, ok := pslog.ParseLevel(cfg.logLevel); ok {
				level = parsed
			}
			if cfg.logJSON {
				logger = pslog.NewWithOptions(cmd.Context(), os.Stderr, pslog.Options{
					Mode:     pslog.ModeStructured,
					MinLevel: level,
				}).With("app", "amqtx-sim")
			} else {
				logger = logger.LogLevel(level)
			}
			seed := cfg.seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			svcfields.WithSubsystem(logger, "sim.lifecycle").WithLogLevel().Info(
				"starting simulation",
				"pid", os.Getpid(),
				"txns", cfg.txns,
				"sends", cfg.sends,
				"payload", humanizeBytes(cfg.payloadBytes),
				"seed", seed,
			)
			report, err := runSim(cmd.Context(), logger, cfg, seed)
			if err != nil {
				return err
			}
			printReport(cfg, report)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("txns", 100, "number of transactions to run")
	flags.Int("sends", 4, "sends tracked per transaction")
	flags.Float64("send-failure-rate", 0, "probability in [0,1] that a tracked send settles with a failure")
	flags.Float64("declare-failure-rate", 0, "probability in [0,1] that the coordinator rejects a declare")
	flags.Float64("detach-rate", 0, "probability in [0,1] that the coordinator link detaches mid-transaction")
	flags.String("payload", "1kb", "payload size carried per send (accepts humanized sizes)")
	flags.Int64("seed", 0, "random seed (0 derives one from the clock)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "emit structured JSON logs instead of console logs")

	viper.SetEnvPrefix("AMQTX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindFlags(flags,
		"txns", "sends",
		"send-failure-rate", "declare-failure-rate", "detach-rate",
		"payload", "seed", "log-level", "log-json",
	)

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}
}

func bindConfig(cfg *simConfig) error {
	cfg.txns = viper.GetInt("txns")
	cfg.sends = viper.GetInt("sends")
	cfg.sendFailureRate = viper.GetFloat64("send-failure-rate")
	cfg.declareFailureRate = viper.GetFloat64("declare-failure-rate")
	cfg.detachRate = viper.GetFloat64("detach-rate")
	cfg.seed = viper.GetInt64("seed")
	cfg.logLevel = strings.TrimSpace(viper.GetString("log-level"))
	cfg.logJSON = viper.GetBool("log-json")

	if cfg.txns <= 0 {
		return fmt.Errorf("--txns must be positive, got %d", cfg.txns)
	}
	if cfg.sends < 0 {
		return fmt.Errorf("--sends must not be negative, got %d", cfg.sends)
	}
	for _, rate := range []struct {
		name  string
		value float64
	}{
		{"send-failure-rate", cfg.sendFailureRate},
		{"declare-failure-rate", cfg.declareFailureRate},
		{"detach-rate", cfg.detachRate},
	} {
		if rate.value < 0 || rate.value > 1 {
			return fmt.Errorf("--%s must be within [0,1], got %g", rate.name, rate.value)
		}
	}
	payload := strings.TrimSpace(viper.GetString("payload"))
	if payload == "" {
		payload = "1kb"
	}
	size, err := humanize.ParseBytes(payload)
	if err != nil {
		return fmt.Errorf("parse --payload %q: %w", payload, err)
	}
	cfg.payloadBytes = size
	return nil
}

func humanizeBytes(n uint64) string {
	return strings.ReplaceAll(humanize.Bytes(n), " ", "")
}

// simState owns one transaction context, one loopback coordinator, and the
// counters for a run. Everything happens on the calling goroutine.
type simState struct {
	cfg      simConfig
	rng      *rand.Rand
	logger   pslog.Logger
	coord    *loopback.Coordinator
	tc       *amqtx.TransactionContext
	consumer *simConsumer
	producer *simProducer
	payload  []byte
	report   simReport
}

type simConsumer struct {
	id            string
	preCommits    int
	postCommits   int
	preRollbacks  int
	postRollbacks int
}

func (c *simConsumer) ConsumerID() string { return c.id }
func (c *simConsumer) PreCommit()         { c.preCommits++ }
func (c *simConsumer) PostCommit()        { c.postCommits++ }
func (c *simConsumer) PreRollback()       { c.preRollbacks++ }
func (c *simConsumer) PostRollback()      { c.postRollbacks++ }

type simProducer struct {
	id string
}

func (p *simProducer) ProducerID() string { return p.id }

func runSim(ctx context.Context, logger pslog.Logger, cfg simConfig, seed int64) (simReport, error) {
	reader := sdkmetric.NewManualReader()
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName("amqtx-sim"),
		),
	)
	if err != nil {
		return simReport{}, fmt.Errorf("build telemetry resource: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	))

	coord := loopback.New(loopback.Config{Logger: logger})
	tc, err := amqtx.New(amqtx.Config{
		SessionID: "amqtx-sim",
		Builder:   coord.Builder(),
		Logger:    logger,
	})
	if err != nil {
		return simReport{}, err
	}

	s := &simState{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   svcfields.WithSubsystem(logger, "sim.run"),
		coord:    coord,
		tc:       tc,
		consumer: &simConsumer{id: "consumer-" + xid.New().String()},
		producer: &simProducer{id: "producer-" + xid.New().String()},
		payload:  make([]byte, cfg.payloadBytes),
	}
	s.rng.Read(s.payload)

	start := time.Now()
	for i := 0; i < cfg.txns; i++ {
		if err := ctx.Err(); err != nil {
			return s.report, err
		}
		roundStart := time.Now()
		if err := s.round(ctx); err != nil {
			return s.report, fmt.Errorf("txn %d/%d: %w", i+1, cfg.txns, err)
		}
		s.report.latencies = append(s.report.latencies, time.Since(roundStart))
		if err := s.checkQuiescent(); err != nil {
			return s.report, fmt.Errorf("txn %d/%d: %w", i+1, cfg.txns, err)
		}
	}
	s.report.wall = time.Since(start)

	if err := s.checkHookTotals(); err != nil {
		return s.report, err
	}
	s.countExchanges()
	s.report.links = coord.LinksBuilt()
	s.report.stranded = coord.ActiveTransactions()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		s.logger.Warn("collect metrics", "error", err)
	} else {
		printMetrics(rm)
	}
	return s.report, nil
}

// round runs one full transaction: begin, enroll, track sends, settle a
// leading slice before commit and the rest after, then resolve. A detach
// round closes the link instead and resolves the transaction as in doubt.
func (s *simState) round(ctx context.Context) error {
	id := amqtx.NewTxnID()
	injected := s.rng.Float64() < s.cfg.declareFailureRate
	if injected {
		s.coord.FailNextDeclare(errors.New("injected declare failure"))
	}
	begin := amqtx.NewLatch()
	s.tc.Begin(ctx, id, begin)
	s.coord.DeliverAll()
	if !begin.Completed() {
		return fmt.Errorf("begin did not resolve for %s", id)
	}
	if begin.Failed() {
		if !injected {
			return fmt.Errorf("begin of %s failed without an injected fault: %w", id, begin.Err())
		}
		s.report.declareFailed++
		return nil
	}

	s.tc.RegisterTxnConsumer(s.consumer)
	s.tc.RegisterTxnProducer(s.producer)
	if !s.tc.ConsumerInTransaction(s.consumer.id) || !s.tc.ProducerInTransaction(s.producer.id) {
		return fmt.Errorf("enrollment did not stick for %s", id)
	}

	if s.rng.Float64() < s.cfg.detachRate {
		return s.resolveInDoubt(ctx, id)
	}

	completions := make([]amqtx.Completion, 0, s.cfg.sends)
	for i := 0; i < s.cfg.sends; i++ {
		completions = append(completions, s.tc.TrackPendingSend())
		s.report.sendsTracked++
	}
	preSettle := len(completions) / 2
	earlyFailure := false
	for _, c := range completions[:preSettle] {
		if s.settleSend(c) {
			earlyFailure = true
		}
	}

	commit := amqtx.NewLatch()
	s.tc.Commit(ctx, amqtx.TxnInfo{ID: id}, commit)
	lateFailure := false
	for _, c := range completions[preSettle:] {
		if s.settleSend(c) {
			lateFailure = true
		}
	}
	s.coord.DeliverAll()
	if !commit.Completed() {
		return fmt.Errorf("commit did not resolve for %s", id)
	}
	switch {
	case !commit.Failed():
		if earlyFailure || lateFailure {
			return fmt.Errorf("commit of %s succeeded despite a failed send", id)
		}
		s.report.committed++
	case amqtx.IsRolledBack(commit.Err()):
		if earlyFailure {
			s.report.rolledBack++
		} else if lateFailure {
			s.report.forcedRollback++
		} else {
			return fmt.Errorf("commit of %s rolled back without a failed send: %w", id, commit.Err())
		}
	default:
		return fmt.Errorf("commit of %s failed: %w", id, commit.Err())
	}
	return nil
}

// settleSend resolves one tracked send, failing it with the configured
// probability. Reports whether it failed.
func (s *simState) settleSend(c amqtx.Completion) bool {
	if s.rng.Float64() < s.cfg.sendFailureRate {
		c.Fail(errors.New("injected send failure"))
		s.report.sendsFailed++
		return true
	}
	c.Complete()
	s.report.sendsSettled++
	s.report.payloadVolume += uint64(len(s.payload))
	return false
}

// resolveInDoubt closes the link under the transaction, verifies that a
// plain commit is refused, then resolves the transaction as in doubt. The
// remote transaction stays stranded on the coordinator.
func (s *simState) resolveInDoubt(ctx context.Context, id *amqtx.TxnID) error {
	s.coord.CurrentLink().Close()
	blocked := amqtx.NewLatch()
	s.tc.Commit(ctx, amqtx.TxnInfo{ID: id}, blocked)
	if !blocked.Completed() || !amqtx.IsIllegalState(blocked.Err()) {
		return fmt.Errorf("commit over closed link: want illegal state, got %v", blocked.Err())
	}
	resolve := amqtx.NewLatch()
	s.tc.Commit(ctx, amqtx.TxnInfo{ID: id, InDoubt: true}, resolve)
	if !resolve.Completed() || !amqtx.IsRolledBack(resolve.Err()) {
		return fmt.Errorf("in-doubt resolution: want rolled back, got %v", resolve.Err())
	}
	s.report.inDoubt++
	return nil
}

// checkQuiescent verifies the context and coordinator are back to rest
// between rounds.
func (s *simState) checkQuiescent() error {
	if id := s.tc.TransactionID(); id != nil {
		return fmt.Errorf("transaction %s still active after resolution", id)
	}
	if s.tc.ConsumerInTransaction(s.consumer.id) {
		return errors.New("consumer still enrolled after resolution")
	}
	if s.tc.ProducerInTransaction(s.producer.id) {
		return errors.New("producer still enrolled after resolution")
	}
	if n := s.coord.PendingExchanges(); n != 0 {
		return fmt.Errorf("%d exchanges still queued after resolution", n)
	}
	return nil
}

// checkHookTotals cross-checks the consumer hook counters against the
// outcome counters. Pre-hooks fire with the intent chosen at resolve time,
// so a late send failure still counts as an intended commit; post-hooks
// follow the discharged outcome.
func (s *simState) checkHookTotals() error {
	if want := s.report.committed + s.report.forcedRollback; s.consumer.preCommits != want {
		return fmt.Errorf("pre-commit hooks ran %d times, want %d", s.consumer.preCommits, want)
	}
	if s.consumer.preRollbacks != s.report.rolledBack {
		return fmt.Errorf("pre-rollback hooks ran %d times, want %d", s.consumer.preRollbacks, s.report.rolledBack)
	}
	if s.consumer.postCommits != s.report.committed {
		return fmt.Errorf("post-commit hooks ran %d times for %d commits", s.consumer.postCommits, s.report.committed)
	}
	rollbacks := s.report.rolledBack + s.report.forcedRollback + s.report.inDoubt
	if s.consumer.postRollbacks != rollbacks {
		return fmt.Errorf("post-rollback hooks ran %d times for %d rollbacks", s.consumer.postRollbacks, rollbacks)
	}
	return nil
}

func (s *simState) countExchanges() {
	for _, ex := range s.coord.Journal() {
		switch ex.Kind {
		case loopback.ExchangeDeclare:
			s.report.declares++
		case loopback.ExchangeDischarge:
			s.report.discharges++
		}
	}
}

func printReport(cfg simConfig, report simReport) {
	fmt.Printf("sim summary: txns=%d committed=%d rolled_back=%d forced_rollback=%d declare_failed=%d in_doubt=%d\n",
		cfg.txns, report.committed, report.rolledBack, report.forcedRollback, report.declareFailed, report.inDoubt)
	fmt.Printf("sim exchanges: declares=%d discharges=%d links=%d stranded=%d\n",
		report.declares, report.discharges, report.links, report.stranded)
	fmt.Printf("sim sends: tracked=%d settled=%d failed=%d payload=%s\n",
		report.sendsTracked, report.sendsSettled, report.sendsFailed, humanizeBytes(report.payloadVolume))
	stats := summarize(report.latencies)
	fmt.Printf("sim latency: txns=%d avg=%s p50=%s p90=%s p99=%s min=%s max=%s\n",
		stats.count, stats.avg, stats.p50, stats.p90, stats.p99, stats.min, stats.max)
	perSec := 0.0
	if report.wall > 0 {
		perSec = float64(cfg.txns) / report.wall.Seconds()
	}
	fmt.Printf("sim wall: %s (%.1f txn/s)\n", report.wall, perSec)
}

func printMetrics(rm metricdata.ResourceMetrics) {
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					fmt.Printf("sim metric: %s%s total=%d\n", m.Name, attrSuffix(dp.Attributes), dp.Value)
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					avg := 0.0
					if dp.Count > 0 {
						avg = float64(dp.Sum) / float64(dp.Count)
					}
					fmt.Printf("sim metric: %s%s count=%d avg_ms=%.2f\n", m.Name, attrSuffix(dp.Attributes), dp.Count, avg)
				}
			}
		}
	}
}

func attrSuffix(set attribute.Set) string {
	if set.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, set.Len())
	for _, kv := range set.ToSlice() {
		parts = append(parts, fmt.Sprintf("%s=%s", string(kv.Key), kv.Value.Emit()))
	}
	sort.Strings(parts)
	return " " + strings.Join(parts, " ")
}

type latencySummary struct {
	count int
	avg   time.Duration
	min   time.Duration
	max   time.Duration
	p50   time.Duration
	p90   time.Duration
	p99   time.Duration
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	total := time.Duration(0)
	for _, d := range sorted {
		total += d
	}
	return latencySummary{
		count: len(sorted),
		avg:   time.Duration(int64(total) / int64(len(sorted))),
		min:   sorted[0],
		max:   sorted[len(sorted)-1],
		p50:   percentile(sorted, 50),
		p90:   percentile(sorted, 90),
		p99:   percentile(sorted, 99),
	}
}

func percentile(sorted []time.Duration, pct float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return sorted[0]
	}
	if pct >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int((pct / 100.0) * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
