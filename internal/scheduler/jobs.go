package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/weather"
)

// ErrAuditMismatch reports wallets whose balance disagrees with history.
var ErrAuditMismatch = errors.New("ledger audit found mismatched wallets")

// maxFarmersPerAlert caps one weather alert run.
const maxFarmersPerAlert = 10000

// UserLister lists users by role.
type UserLister interface {
	UsersByRole(ctx context.Context, role auth.Role, limit int) ([]*auth.User, error)
}

// WeatherAlertJob sends farmers the day's actionable weather advisories.
type WeatherAlertJob struct {
	weather  *weather.Service
	users    UserLister
	notifier contracts.Notifier
	at       gocron.AtTime
}

// NewWeatherAlertJob creates a daily alert job firing at hour:00 UTC.
func NewWeatherAlertJob(w *weather.Service, users UserLister, notifier contracts.Notifier, hour uint) *WeatherAlertJob {
	return &WeatherAlertJob{weather: w, users: users, notifier: notifier, at: gocron.NewAtTime(hour, 0, 0)}
}

func (j *WeatherAlertJob) Name() string { return "weather_alerts" }

func (j *WeatherAlertJob) Definition() gocron.JobDefinition {
	return gocron.DailyJob(1, gocron.NewAtTimes(j.at))
}

// Run fetches the default-location report and notifies every farmer when
// any advisory calls for action.
func (j *WeatherAlertJob) Run(ctx context.Context) error {
	if !j.weather.Configured() {
		return nil
	}
	lat, lon := j.weather.DefaultLocation()
	report, err := j.weather.Report(ctx, lat, lon)
	if err != nil {
		return err
	}
	if !weather.Actionable(report.Insights) {
		return nil
	}

	farmers, err := j.users.UsersByRole(ctx, auth.RoleFarmer, maxFarmersPerAlert)
	if err != nil {
		return fmt.Errorf("list farmers: %w", err)
	}
	body := alertBody(report.Insights)
	for _, f := range farmers {
		j.notifier.Notify(ctx, f.ID, "Weather alert", body)
	}
	return nil
}

func alertBody(insights []weather.Advisory) string {
	lines := make([]string, 0, len(insights))
	for _, a := range insights {
		if a.Type == weather.TypeGeneral {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s %s", a.Type, a.Insight, a.Action))
	}
	return strings.Join(lines, "\n")
}

// ShipmentRefresher advances active shipments.
type ShipmentRefresher interface {
	RefreshActive(ctx context.Context) (int, error)
}

// ShipmentRefreshJob polls tracking for shipments not yet delivered.
type ShipmentRefreshJob struct {
	shipments ShipmentRefresher
	every     time.Duration
	logger    *slog.Logger
}

// NewShipmentRefreshJob creates a job running every interval.
func NewShipmentRefreshJob(shipments ShipmentRefresher, every time.Duration, logger *slog.Logger) *ShipmentRefreshJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShipmentRefreshJob{shipments: shipments, every: every, logger: logger}
}

func (j *ShipmentRefreshJob) Name() string { return "shipment_tracking" }

func (j *ShipmentRefreshJob) Definition() gocron.JobDefinition { return gocron.DurationJob(j.every) }

func (j *ShipmentRefreshJob) Run(ctx context.Context) error {
	changed, err := j.shipments.RefreshActive(ctx)
	if err != nil {
		return err
	}
	if changed > 0 {
		j.logger.Info("shipments advanced", "count", changed)
	}
	return nil
}

// Auditor replays wallet histories.
type Auditor interface {
	AuditAll(ctx context.Context, limit int) ([]*ledger.AuditResult, error)
}

// LedgerAuditJob replays every wallet nightly.
type LedgerAuditJob struct {
	ledger Auditor
	at     gocron.AtTime
	limit  int
}

// NewLedgerAuditJob creates a nightly audit firing at hour:00 UTC.
func NewLedgerAuditJob(a Auditor, hour uint) *LedgerAuditJob {
	return &LedgerAuditJob{ledger: a, at: gocron.NewAtTime(hour, 0, 0)}
}

func (j *LedgerAuditJob) Name() string { return "ledger_audit" }

func (j *LedgerAuditJob) Definition() gocron.JobDefinition {
	return gocron.DailyJob(1, gocron.NewAtTimes(j.at))
}

func (j *LedgerAuditJob) Run(ctx context.Context) error {
	results, err := j.ledger.AuditAll(ctx, j.limit)
	if err != nil {
		return err
	}
	var bad []string
	for _, r := range results {
		if !r.Match {
			bad = append(bad, r.WalletID)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrAuditMismatch, strings.Join(bad, ", "))
	}
	return nil
}
