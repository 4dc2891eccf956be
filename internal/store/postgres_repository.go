/**
 * @description
 * PostgreSQL implementation of the Repository interface. The confirm transition is a
 * single conditional update inside a transaction that also inserts the Payout, and the
 * partial unique index on payouts backs the one-pending-payout-per-pair invariant.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/google/uuid: identifiers for new payouts.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const triplerColumns = `id, first_name, last_name, phone, status, triplees, carrier_name, is_voip,
	upgrade_notice_sent, claimed_by, confirmed_at, created_at, updated_at`

func scanTripler(row pgx.Row) (*domain.Tripler, error) {
	var t domain.Tripler
	var triplees []string
	err := row.Scan(
		&t.ID, &t.FirstName, &t.LastName, &t.Phone, &t.Status, &triplees, &t.CarrierName, &t.IsVoIP,
		&t.UpgradeNoticeSent, &t.ClaimedBy, &t.ConfirmedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTriplerNotFound
		}
		return nil, err
	}
	copy(t.Triplees[:], triplees)
	return &t, nil
}

// CreateTripler inserts a Tripler. An empty ID is assigned.
func (r *PostgresRepository) CreateTripler(ctx context.Context, tripler *domain.Tripler) error {
	if tripler.ID == "" {
		tripler.ID = uuid.NewString()
	}
	query := `
		INSERT INTO triplers (id, first_name, last_name, phone, status, triplees, carrier_name, is_voip, upgrade_notice_sent, claimed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		tripler.ID, tripler.FirstName, tripler.LastName, tripler.Phone, tripler.Status, tripler.Triplees[:],
		tripler.CarrierName, tripler.IsVoIP, tripler.UpgradeNoticeSent, tripler.ClaimedBy,
	).Scan(&tripler.CreatedAt, &tripler.UpdatedAt)
}

// FindTriplerByID retrieves a Tripler by id.
func (r *PostgresRepository) FindTriplerByID(ctx context.Context, triplerID string) (*domain.Tripler, error) {
	return scanTripler(r.db.QueryRow(ctx, `SELECT `+triplerColumns+` FROM triplers WHERE id = $1`, triplerID))
}

// FindTriplerByPhone retrieves a Tripler by its E.164 phone number.
func (r *PostgresRepository) FindTriplerByPhone(ctx context.Context, phone string) (*domain.Tripler, error) {
	return scanTripler(r.db.QueryRow(ctx, `SELECT `+triplerColumns+` FROM triplers WHERE phone = $1`, phone))
}

// DeleteTripler removes a Tripler record entirely.
func (r *PostgresRepository) DeleteTripler(ctx context.Context, triplerID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM triplers WHERE id = $1`, triplerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTriplerNotFound
	}
	return nil
}

// MarkUpgradeNoticeSent flags that the upgrade invitation went out.
func (r *PostgresRepository) MarkUpgradeNoticeSent(ctx context.Context, triplerID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE triplers SET upgrade_notice_sent = TRUE, updated_at = NOW() WHERE id = $1`, triplerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTriplerNotFound
	}
	return nil
}

// ConfirmTripler performs the pending -> confirmed compare-and-set and inserts the Payout
// in the same transaction.
func (r *PostgresRepository) ConfirmTripler(ctx context.Context, triplerID string, amount int64) (*domain.Payout, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ambassadorID string
	err = tx.QueryRow(ctx, `
		UPDATE triplers
		SET status = 'confirmed', confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING claimed_by
	`, triplerID).Scan(&ambassadorID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM triplers WHERE id = $1)`, triplerID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.ErrTriplerNotFound
		}
		return nil, domain.ErrTriplerNotPending
	}

	payout := domain.Payout{
		ID:           uuid.NewString(),
		AmbassadorID: ambassadorID,
		TriplerID:    triplerID,
		Amount:       amount,
		Status:       domain.PayoutPending,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO payouts (id, ambassador_id, tripler_id, amount, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING created_at, updated_at
	`, payout.ID, payout.AmbassadorID, payout.TriplerID, payout.Amount).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrTriplerNotPending
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &payout, nil
}

// CreateAmbassador inserts an Ambassador. An empty ID is assigned.
func (r *PostgresRepository) CreateAmbassador(ctx context.Context, ambassador *domain.Ambassador) error {
	if ambassador.ID == "" {
		ambassador.ID = uuid.NewString()
	}
	factors, err := json.Marshal(ambassador.TrustFactors)
	if err != nil {
		return err
	}
	if ambassador.TrustFactors == nil {
		factors = []byte("{}")
	}
	query := `
		INSERT INTO ambassadors (id, first_name, last_name, phone, email, approved, locked, trust_factors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		ambassador.ID, ambassador.FirstName, ambassador.LastName, ambassador.Phone, ambassador.Email,
		ambassador.Approved, ambassador.Locked, factors,
	).Scan(&ambassador.CreatedAt, &ambassador.UpdatedAt)
}

// FindAmbassadorByID retrieves an Ambassador with current trust factors.
func (r *PostgresRepository) FindAmbassadorByID(ctx context.Context, ambassadorID string) (*domain.Ambassador, error) {
	var a domain.Ambassador
	var factors []byte
	query := `
		SELECT id, first_name, last_name, phone, email, approved, locked, trust_factors, created_at, updated_at
		FROM ambassadors
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, ambassadorID).Scan(
		&a.ID, &a.FirstName, &a.LastName, &a.Phone, &a.Email, &a.Approved, &a.Locked, &factors, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAmbassadorNotFound
		}
		return nil, err
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &a.TrustFactors); err != nil {
			return nil, fmt.Errorf("decode trust factors for ambassador %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

// CreateAccount inserts an Account. An empty ID is assigned.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if !account.Provider.Valid() {
		return fmt.Errorf("unknown provider %q: %w", account.Provider, domain.ErrValidation)
	}
	query := `
		INSERT INTO accounts (id, ambassador_id, provider, external_id, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		account.ID, account.AmbassadorID, account.Provider, account.ExternalID, account.IsPrimary,
	).Scan(&account.CreatedAt)
}

// FindPrimaryAccount retrieves the Ambassador's primary Account.
func (r *PostgresRepository) FindPrimaryAccount(ctx context.Context, ambassadorID string) (*domain.Account, error) {
	var acc domain.Account
	query := `
		SELECT id, ambassador_id, provider, external_id, is_primary, created_at
		FROM accounts
		WHERE ambassador_id = $1 AND is_primary
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, ambassadorID).Scan(
		&acc.ID, &acc.AmbassadorID, &acc.Provider, &acc.ExternalID, &acc.IsPrimary, &acc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// SetPrimaryAccount demotes every Account of the Ambassador and promotes accountID.
func (r *PostgresRepository) SetPrimaryAccount(ctx context.Context, ambassadorID, accountID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE id = $1 AND ambassador_id = $2`, accountID, ambassadorID).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrAccountNotFound
	}

	if _, err = tx.Exec(ctx, `UPDATE accounts SET is_primary = FALSE WHERE ambassador_id = $1`, ambassadorID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `UPDATE accounts SET is_primary = TRUE WHERE id = $1 AND ambassador_id = $2`, accountID, ambassadorID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListEligiblePayouts returns up to limit pending payouts after the cursor. Payouts whose
// Ambassador is not approved or whose Tripler has been deleted are left out.
func (r *PostgresRepository) ListEligiblePayouts(ctx context.Context, after domain.PayoutCursor, limit int) ([]domain.PayoutCandidate, error) {
	query := `
		SELECT p.id, p.ambassador_id, p.tripler_id, p.created_at
		FROM payouts p
		JOIN ambassadors a ON a.id = p.ambassador_id
		JOIN triplers t ON t.id = p.tripler_id
		WHERE a.approved AND p.status = 'pending'
			AND (p.created_at, p.id) > ($1::timestamptz, $2::text)
		ORDER BY p.created_at ASC, p.id ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, after.CreatedAt, after.PayoutID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.PayoutCandidate
	for rows.Next() {
		var c domain.PayoutCandidate
		if err := rows.Scan(&c.PayoutID, &c.AmbassadorID, &c.TriplerID, &c.CreatedAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// FindPayout returns the most recent payout for the pair.
func (r *PostgresRepository) FindPayout(ctx context.Context, ambassadorID, triplerID string) (*domain.Payout, error) {
	var p domain.Payout
	var payload []byte
	query := `
		SELECT id, ambassador_id, tripler_id, account_id, amount, status, disbursement_id, settlement_id,
			error, disbursed_at, created_at, updated_at
		FROM payouts
		WHERE ambassador_id = $1 AND tripler_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, ambassadorID, triplerID).Scan(
		&p.ID, &p.AmbassadorID, &p.TriplerID, &p.AccountID, &p.Amount, &p.Status, &p.DisbursementID,
		&p.SettlementID, &payload, &p.DisbursedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		p.Error = json.RawMessage(payload)
	}
	return &p, nil
}

// MarkPayoutDisbursed records a successful disbursement on a pending payout and clears
// any earlier error payload.
func (r *PostgresRepository) MarkPayoutDisbursed(ctx context.Context, payoutID, accountID, disbursementID string, at time.Time) error {
	query := `
		UPDATE payouts
		SET status = 'disbursed', account_id = $2, disbursement_id = $3, disbursed_at = $4, error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, payoutID, accountID, disbursementID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotPending
	}
	return nil
}

// RecordPayoutError attaches an error payload to a payout that stays pending.
func (r *PostgresRepository) RecordPayoutError(ctx context.Context, payoutID string, payload json.RawMessage) error {
	tag, err := r.db.Exec(ctx, `UPDATE payouts SET error = $2, updated_at = NOW() WHERE id = $1 AND status = 'pending'`, payoutID, []byte(payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPayoutNotPending
	}
	return nil
}
