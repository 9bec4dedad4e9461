// Package notify delivers alert notifications to external destinations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kairos-watch/capture/pkg/logger"
	"github.com/kairos-watch/capture/pkg/signal"
)

// Notification is one fired alert rule for one run.
type Notification struct {
	EventID     string          `json:"eventId"`
	RuleID      string          `json:"ruleId"`
	RuleName    string          `json:"ruleName,omitempty"`
	TargetID    string          `json:"targetId"`
	RunID       string          `json:"runId"`
	URL         string          `json:"url,omitempty"`
	Destination string          `json:"-"`
	Subject     string          `json:"subject"`
	Preview     string          `json:"preview"`
	Fired       []string        `json:"fired"`
	Summary     *signal.Summary `json:"summary,omitempty"`
	SentAt      time.Time       `json:"sentAt"`
}

// Transport sends notifications. Implementations must be safe for
// concurrent use.
type Transport interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Multi sends every notification through all transports.
type Multi []Transport

// Name lists the wrapped transports.
func (m Multi) Name() string {
	name := "multi"
	for i, t := range m {
		if i == 0 {
			name += ":"
		} else {
			name += ","
		}
		name += t.Name()
	}
	return name
}

// Send delivers n through each transport and joins their errors.
func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogTransport writes notifications to a logger. It is the fallback when no
// other destination is configured.
type LogTransport struct {
	log logger.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(log logger.Logger) *LogTransport {
	return &LogTransport{log: log}
}

// Name returns "log".
func (t *LogTransport) Name() string { return "log" }

// Send logs the notification at info level.
func (t *LogTransport) Send(_ context.Context, n Notification) error {
	t.log.Info("Alert fired",
		logger.String("rule_id", n.RuleID),
		logger.String("target_id", n.TargetID),
		logger.String("run_id", n.RunID),
		logger.String("subject", n.Subject),
		logger.Strings("fired", n.Fired),
	)
	return nil
}
