package reconcile

import (
	"context"
	"time"

	"commerce-core/internal/model"
	"commerce-core/internal/service"

	"github.com/rs/zerolog"
)

// Lister narrows the payment repository to the read the poller performs.
type Lister interface {
	ListForReconciliation(ctx context.Context, providers []model.PaymentProvider, olderThan time.Time, limit int) ([]model.Payment, error)
}

// Reconciler re-checks one payment against its provider and folds the
// outcome into the stored record.
type Reconciler interface {
	Status(ctx context.Context, transactionID string, ident *model.Identity) (*service.PaymentStatusResult, error)
}

// Config holds configuration for the reconciliation poller.
type Config struct {
	// Interval is the time between polling rounds.
	Interval time.Duration

	// MinAge is how long a payment must have been untouched before it is
	// polled. Keeps the poller off payments a client is actively confirming.
	MinAge time.Duration

	// Batch is the maximum number of payments reconciled per round.
	Batch int
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval: 30 * time.Second,
		MinAge:   time.Minute,
		Batch:    50,
	}
}

// Poller periodically settles payments of providers that deliver no
// webhooks. Each round lists unsettled payments of those providers and runs
// the payment service's status reconciliation on them.
type Poller struct {
	payments   Lister
	reconciler Reconciler
	providers  []model.PaymentProvider
	config     *Config
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPoller creates a reconciliation poller over the given poll-only providers.
func NewPoller(payments Lister, reconciler Reconciler, providers []model.PaymentProvider, config *Config, logger zerolog.Logger) *Poller {
	if config == nil {
		config = DefaultConfig()
	}
	return &Poller{
		payments:   payments,
		reconciler: reconciler,
		providers:  providers,
		config:     config,
		logger:     logger.With().Str("component", "reconcile-poller").Logger(),
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled. It is meant to be started as a goroutine
// alongside the HTTP server.
func (p *Poller) Run(ctx context.Context) {
	if len(p.providers) == 0 {
		p.logger.Info().Msg("no poll-only providers configured, reconciliation disabled")
		return
	}

	providers := make([]string, len(p.providers))
	for i, name := range p.providers {
		providers[i] = string(name)
	}
	p.logger.Info().
		Strs("providers", providers).
		Dur("interval", p.config.Interval).
		Int("batch", p.config.Batch).
		Msg("reconciliation poller started")

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce performs a single polling round and reports how many payments were
// reconciled. Per-payment failures are logged and skipped; the round always
// finishes unless ctx is cancelled.
func (p *Poller) runOnce(ctx context.Context) int {
	olderThan := p.now().Add(-p.config.MinAge)
	payments, err := p.payments.ListForReconciliation(ctx, p.providers, olderThan, p.config.Batch)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to list payments for reconciliation")
		return 0
	}
	if len(payments) == 0 {
		return 0
	}

	p.logger.Debug().Int("count", len(payments)).Msg("reconciling payments")

	reconciled := 0
	for _, payment := range payments {
		if ctx.Err() != nil {
			return reconciled
		}

		result, err := p.reconciler.Status(ctx, payment.TransactionID, nil)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("transaction_id", payment.TransactionID).
				Str("provider", string(payment.Provider)).
				Msg("payment reconciliation failed")
			continue
		}
		reconciled++

		if result.Payment.Status != payment.Status {
			p.logger.Info().
				Str("transaction_id", payment.TransactionID).
				Str("from", string(payment.Status)).
				Str("to", string(result.Payment.Status)).
				Msg("payment reconciled")
		}
	}
	return reconciled
}
