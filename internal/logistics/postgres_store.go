package logistics

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists shipments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed shipment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const shipmentColumns = `id, contract_id, milestone_id, provider, vehicle_type, booking_id,
	status, estimated_cost::TEXT, tracking_url, booked_at, updated_at`

func (p *PostgresStore) CreateShipment(ctx context.Context, s *Shipment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO shipments (
			id, contract_id, milestone_id, provider, vehicle_type, booking_id,
			status, estimated_cost, tracking_url, booked_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC(14,2), $9, $10, $11)`,
		s.ID, s.ContractID, s.MilestoneID, s.Provider, s.VehicleType, s.BookingID,
		string(s.Status), s.EstimatedCost, s.TrackingURL, s.BookedAt, s.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyBooked
	}
	return err
}

func (p *PostgresStore) GetShipment(ctx context.Context, id string) (*Shipment, error) {
	return scanShipment(p.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
}

func (p *PostgresStore) ShipmentForMilestone(ctx context.Context, milestoneID string) (*Shipment, error) {
	return scanShipment(p.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE milestone_id = $1`, milestoneID))
}

func (p *PostgresStore) ListByContract(ctx context.Context, contractID string) ([]*Shipment, error) {
	return p.query(ctx, `SELECT `+shipmentColumns+` FROM shipments
		WHERE contract_id = $1 ORDER BY booked_at`, contractID)
}

func (p *PostgresStore) ListActive(ctx context.Context, limit int) ([]*Shipment, error) {
	return p.query(ctx, `SELECT `+shipmentColumns+` FROM shipments
		WHERE status <> $1 ORDER BY booked_at LIMIT $2`, string(StatusDelivered), limit)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE shipments SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrShipmentNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteShipment(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM shipments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrShipmentNotFound
	}
	return nil
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...interface{}) ([]*Shipment, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Shipment, 0)
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanShipment(row scanner) (*Shipment, error) {
	s := &Shipment{}
	var status string
	err := row.Scan(&s.ID, &s.ContractID, &s.MilestoneID, &s.Provider, &s.VehicleType, &s.BookingID,
		&status, &s.EstimatedCost, &s.TrackingURL, &s.BookedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShipmentNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	return s, nil
}
