package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/listings"
)

// --- listings ---

const listingColumns = `id, farmer_id, crop_type, quantity, unit, expected_price_per_unit,
	harvest_date, location, farming_practice, soil_type, irrigation_source, image_url,
	status, recommended_template, recommendation_reason, created_at, updated_at`

func scanListing(row scanner) (*listings.Listing, error) {
	l := &listings.Listing{}
	var quantity, price, status string
	var harvest time.Time
	err := row.Scan(&l.ID, &l.FarmerID, &l.CropType, &quantity, &l.Unit, &price,
		&harvest, &l.Location, &l.FarmingPractice, &l.SoilType, &l.IrrigationSource, &l.ImageURL,
		&status, &l.RecommendedTemplate, &l.RecommendationReason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, listings.ErrNotFound
		}
		return nil, err
	}
	l.Quantity = dbQuantity(quantity)
	l.ExpectedPricePerUnit = dbAmount(price)
	l.HarvestDate = harvest.Format(time.DateOnly)
	l.Status = listings.Status(status)
	return l, nil
}

func (p *Postgres) CreateListing(ctx context.Context, l *listings.Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		l.ID, l.FarmerID, l.CropType, l.Quantity, l.Unit, l.ExpectedPricePerUnit,
		l.HarvestDate, l.Location, l.FarmingPractice, l.SoilType, l.IrrigationSource, l.ImageURL,
		string(l.Status), l.RecommendedTemplate, l.RecommendationReason, l.CreatedAt, l.UpdatedAt)
	return err
}

func (p *Postgres) GetListing(ctx context.Context, id string) (*listings.Listing, error) {
	return scanListing(p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
}

// UpdateListing only touches active listings so it cannot reopen one a
// contract has just closed.
func (p *Postgres) UpdateListing(ctx context.Context, l *listings.Listing) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			crop_type = $1, quantity = $2, unit = $3, expected_price_per_unit = $4,
			harvest_date = $5, location = $6, farming_practice = $7, soil_type = $8,
			irrigation_source = $9, image_url = $10, updated_at = $11
		WHERE id = $12 AND status = 'active'`,
		l.CropType, l.Quantity, l.Unit, l.ExpectedPricePerUnit,
		l.HarvestDate, l.Location, l.FarmingPractice, l.SoilType,
		l.IrrigationSource, l.ImageURL, l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := p.GetListing(ctx, l.ID); err != nil {
		return err
	}
	return listings.ErrClosed
}

func (p *Postgres) ListListings(ctx context.Context, f listings.Filter) ([]*listings.Listing, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.FarmerID != "" {
		add("farmer_id = $%d", f.FarmerID)
	}
	if f.CropType != "" {
		add("crop_type ILIKE '%%' || $%d || '%%'", f.CropType)
	}
	if f.Location != "" {
		add("location ILIKE '%%' || $%d || '%%'", f.Location)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*listings.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (tx *pgTx) LockListing(ctx context.Context, id string) (*listings.Listing, error) {
	return scanListing(tx.tx.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
}

func (tx *pgTx) SaveListing(ctx context.Context, l *listings.Listing) error {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3`,
		string(l.Status), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return listings.ErrNotFound
	}
	return nil
}

// --- contracts ---

const contractColumns = `id, listing_id, buyer_id, farmer_id, quantity_proposed,
	price_per_unit_agreed, status, payment_terms, last_offer_by, summary, created_at, updated_at`

func scanContract(row scanner) (*contracts.Contract, error) {
	c := &contracts.Contract{}
	var quantity, price, status, terms, lastOffer string
	err := row.Scan(&c.ID, &c.ListingID, &c.BuyerID, &c.FarmerID, &quantity,
		&price, &status, &terms, &lastOffer, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	c.QuantityProposed = dbQuantity(quantity)
	c.PricePerUnitAgreed = dbAmount(price)
	c.Status = contracts.Status(status)
	c.PaymentTerms = contracts.PaymentTerms(terms)
	c.LastOfferBy = contracts.Party(lastOffer)
	return c, nil
}

func (p *Postgres) GetContract(ctx context.Context, id string) (*contracts.Contract, error) {
	return scanContract(p.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
}

func (p *Postgres) ListContracts(ctx context.Context, f contracts.Filter) ([]*contracts.Contract, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "$?", fmt.Sprintf("$%d", len(args))))
	}
	if f.BuyerID != "" {
		add("buyer_id = $?", f.BuyerID)
	}
	if f.FarmerID != "" {
		add("farmer_id = $?", f.FarmerID)
	}
	if f.UserID != "" {
		add("(buyer_id = $? OR farmer_id = $?)", f.UserID)
	}
	if f.ListingID != "" {
		add("listing_id = $?", f.ListingID)
	}
	if f.LastOfferBy != "" {
		add("last_offer_by = $?", string(f.LastOfferBy))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($?)", pq.Array(statuses))
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*contracts.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *Postgres) SetContractSummary(ctx context.Context, id, summary string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE contracts SET summary = $1 WHERE id = $2`, summary, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.ErrNotFound
	}
	return nil
}

func (tx *pgTx) CreateContract(ctx context.Context, c *contracts.Contract) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.ListingID, c.BuyerID, c.FarmerID, c.QuantityProposed,
		c.PricePerUnitAgreed, string(c.Status), string(c.PaymentTerms), string(c.LastOfferBy),
		c.Summary, c.CreatedAt, c.UpdatedAt)
	return err
}

func (tx *pgTx) LockContract(ctx context.Context, id string) (*contracts.Contract, error) {
	return scanContract(tx.tx.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
}

// UpdateContract leaves summary alone; SetContractSummary owns it.
func (tx *pgTx) UpdateContract(ctx context.Context, c *contracts.Contract) error {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE contracts SET
			quantity_proposed = $1, price_per_unit_agreed = $2, status = $3,
			payment_terms = $4, last_offer_by = $5, updated_at = $6
		WHERE id = $7`,
		c.QuantityProposed, c.PricePerUnitAgreed, string(c.Status),
		string(c.PaymentTerms), string(c.LastOfferBy), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.ErrNotFound
	}
	return nil
}

// --- milestones ---

const milestoneColumns = `id, contract_id, name, amount, seq, is_complete, payment_released,
	update_text, image_url, ai_notes, created_at, updated_at`

func scanMilestone(row scanner) (*contracts.Milestone, error) {
	m := &contracts.Milestone{}
	var amount string
	err := row.Scan(&m.ID, &m.ContractID, &m.Name, &amount, &m.Seq, &m.IsComplete, &m.PaymentReleased,
		&m.UpdateText, &m.ImageURL, &m.AINotes, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrMilestoneNotFound
		}
		return nil, err
	}
	m.Amount = dbAmount(amount)
	return m, nil
}

func listMilestones(ctx context.Context, q querier, contractID string) ([]*contracts.Milestone, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE contract_id = $1 ORDER BY seq`, contractID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*contracts.Milestone{}
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (p *Postgres) GetMilestone(ctx context.Context, id string) (*contracts.Milestone, error) {
	return scanMilestone(p.db.QueryRowContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id))
}

func (p *Postgres) ListMilestones(ctx context.Context, contractID string) ([]*contracts.Milestone, error) {
	return listMilestones(ctx, p.db, contractID)
}

func (tx *pgTx) CreateMilestone(ctx context.Context, m *contracts.Milestone) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO milestones (`+milestoneColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.ContractID, m.Name, m.Amount, m.Seq, m.IsComplete, m.PaymentReleased,
		m.UpdateText, m.ImageURL, m.AINotes, m.CreatedAt, m.UpdatedAt)
	return err
}

func (tx *pgTx) LockMilestone(ctx context.Context, id string) (*contracts.Milestone, error) {
	return scanMilestone(tx.tx.QueryRowContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1 FOR UPDATE`, id))
}

func (tx *pgTx) UpdateMilestone(ctx context.Context, m *contracts.Milestone) error {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE milestones SET
			name = $1, amount = $2, is_complete = $3, payment_released = $4,
			update_text = $5, image_url = $6, ai_notes = $7, updated_at = $8
		WHERE id = $9`,
		m.Name, m.Amount, m.IsComplete, m.PaymentReleased,
		m.UpdateText, m.ImageURL, m.AINotes, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.ErrMilestoneNotFound
	}
	return nil
}

func (tx *pgTx) ContractMilestones(ctx context.Context, contractID string) ([]*contracts.Milestone, error) {
	return listMilestones(ctx, tx.tx, contractID)
}
