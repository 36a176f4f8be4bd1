package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"event-ticketing/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets issued per event",
		},
		[]string{"event_id"},
	)

	issuanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuance_outcomes_total",
			Help: "Payment confirmations by issuance outcome",
		},
		[]string{"outcome"},
	)

	issuanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "issuance_duration_seconds",
			Help:    "Duration of the issuance transaction",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	scanResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_results_total",
			Help: "Gate scans per event and result",
		},
		[]string{"event_id", "result"},
	)

	tierRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tier_remaining_tickets",
			Help: "Remaining capacity per ticket tier of published events",
		},
		[]string{"event_id", "tier_id"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
)

const (
	OutcomeIssued           = "issued"
	OutcomeDuplicate        = "duplicate"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeFailed           = "failed"
)

// TierSource is the read side the gauge refresh job needs.
type TierSource interface {
	ListEventsByStatus(ctx context.Context, status models.EventStatus) ([]*models.Event, error)
	ListTiersByEvent(ctx context.Context, eventID string) ([]*models.TicketTier, error)
}

// Monitor records ticketing metrics. A nil *Monitor is valid and records nothing.
type Monitor struct {
	tiers     TierSource
	scheduler gocron.Scheduler
}

func NewMonitor(tiers TierSource) *Monitor {
	return &Monitor{tiers: tiers}
}

// Start schedules the tier gauge refresh every interval.
func (m *Monitor) Start(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if err := m.RefreshTierGauges(ctx); err != nil {
				slog.Error("refresh tier gauges", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule tier gauge refresh: %w", err)
	}

	m.scheduler = s
	s.Start()
	slog.Info("metrics scheduler started", "interval", interval.String())
	return nil
}

func (m *Monitor) Stop() error {
	if m == nil || m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

// RefreshTierGauges recomputes remaining capacity for every tier of every
// published event.
func (m *Monitor) RefreshTierGauges(ctx context.Context) error {
	events, err := m.tiers.ListEventsByStatus(ctx, models.EventPublished)
	if err != nil {
		return err
	}

	tierRemaining.Reset()
	for _, event := range events {
		tiers, err := m.tiers.ListTiersByEvent(ctx, event.ID)
		if err != nil {
			return err
		}
		for _, tier := range tiers {
			tierRemaining.WithLabelValues(event.ID, tier.ID).Set(float64(tier.Remaining()))
		}
	}
	return nil
}

func (m *Monitor) TrackIssuance(eventID, outcome string, tickets int, duration time.Duration) {
	if m == nil {
		return
	}
	issuanceOutcomes.WithLabelValues(outcome).Inc()
	if tickets > 0 {
		ticketsIssued.WithLabelValues(eventID).Add(float64(tickets))
	}
	if duration > 0 {
		issuanceDuration.Observe(duration.Seconds())
	}
}

func (m *Monitor) TrackScan(eventID string, result models.ScanResult) {
	if m == nil {
		return
	}
	scanResults.WithLabelValues(eventID, string(result)).Inc()
}

func (m *Monitor) TrackBreakerState(name string, state int) {
	if m == nil {
		return
	}
	breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Monitor) TrackRateLimited(scope string) {
	if m == nil {
		return
	}
	rateLimited.WithLabelValues(scope).Inc()
}
