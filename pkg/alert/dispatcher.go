package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/metrics"
	"github.com/kairos-watch/capture/pkg/notify"
	"github.com/kairos-watch/capture/pkg/signal"
	"github.com/kairos-watch/capture/pkg/value"
)

// Metric stages for alert pipeline errors.
const (
	StageRules   = "rules"
	StageSend    = "send"
	StagePersist = "persist"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	ListAlertRules(ctx context.Context, targetID string) ([]*core.AlertRule, error)
	CreateAlertEvent(ctx context.Context, event *core.AlertEvent) error
}

// Dispatcher evaluates a target's rules for a new run and sends a
// notification for each rule that fires.
type Dispatcher struct {
	store     Store
	transport notify.Transport
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	emit      func(core.Event)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics records deliveries and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the time stamped on events.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithEmitter receives an AlertSent event per persisted alert.
func WithEmitter(emit func(core.Event)) Option {
	return func(d *Dispatcher) { d.emit = emit }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store Store, transport notify.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		transport: transport,
		log:       logger.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch compares previous and current normalized payloads of a target and
// notifies every enabled rule whose thresholds fire. Each delivered
// notification is recorded as an AlertEvent. A failing rule does not stop
// the others; all failures are joined into the returned error.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	target *core.Target,
	run *core.Run,
	previous, current value.Value,
) ([]*core.AlertEvent, error) {
	rules, err := d.store.ListAlertRules(ctx, target.ID)
	if err != nil {
		d.metrics.RecordAlertError(StageRules)
		return nil, fmt.Errorf("list alert rules for %s: %w", target.ID, err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	sum := signal.Summarize(signal.FromPayload(previous), signal.FromPayload(current))

	var sent []*core.AlertEvent
	var errs []error
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		event, err := d.dispatchRule(ctx, rule, target, run, sum)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if event != nil {
			sent = append(sent, event)
		}
	}
	return sent, errors.Join(errs...)
}

func (d *Dispatcher) dispatchRule(
	ctx context.Context,
	rule *core.AlertRule,
	target *core.Target,
	run *core.Run,
	sum signal.Summary,
) (*core.AlertEvent, error) {
	for name := range rule.Thresholds {
		if !Known(name) {
			d.log.Debug("Ignoring unknown threshold",
				logger.String("rule_id", rule.ID),
				logger.String("threshold", name),
			)
		}
	}

	fired := Evaluate(sum, rule.Thresholds)
	if len(fired) == 0 {
		return nil, nil
	}

	subject, preview := Render(target, sum, fired)
	firedJSON, err := json.Marshal(fired)
	if err != nil {
		return nil, err
	}

	event := &core.AlertEvent{
		ID:      uuid.New().String(),
		RuleID:  rule.ID,
		RunID:   run.ID,
		SentAt:  d.now().UTC(),
		Subject: subject,
		Preview: preview,
		Fired:   datatypes.JSON(firedJSON),
	}

	summary := sum
	n := notify.Notification{
		EventID:     event.ID,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		TargetID:    target.ID,
		RunID:       run.ID,
		URL:         target.URL,
		Destination: rule.Destination,
		Subject:     subject,
		Preview:     preview,
		Fired:       fired,
		Summary:     &summary,
		SentAt:      event.SentAt,
	}
	if err := d.transport.Send(ctx, n); err != nil {
		d.metrics.RecordAlertError(StageSend)
		return nil, fmt.Errorf("send via %s: %w", d.transport.Name(), err)
	}
	d.metrics.RecordAlertSent(d.transport.Name())

	if err := d.store.CreateAlertEvent(ctx, event); err != nil {
		d.metrics.RecordAlertError(StagePersist)
		return nil, fmt.Errorf("persist alert event: %w", err)
	}

	d.log.Info("Alert dispatched",
		logger.String("rule_id", rule.ID),
		logger.String("target_id", target.ID),
		logger.String("run_id", run.ID),
		logger.Strings("fired", fired),
	)
	if d.emit != nil {
		d.emit(&core.AlertSent{Event: event, Timestamp: d.now()})
	}
	return event, nil
}
