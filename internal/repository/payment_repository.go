package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const uniqueViolationCode = "23505"

// paymentColumns is the shared select list; keep in sync with scanPayment.
const paymentColumns = `id, order_id, provider, transaction_id, amount, currency, status,
	raw_response, error_message, metadata, completed_at, created_at, updated_at`

// paymentRepository implements the PaymentRepository interface using PostgreSQL.
type paymentRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(pool *pgxpool.Pool, logger zerolog.Logger) PaymentRepository {
	return &paymentRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "payment").Logger(),
	}
}

// BeginTx starts a new database transaction.
func (r *paymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Create inserts a new payment row.
func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, provider, transaction_id, amount, currency,
			status, raw_response, error_message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.pool.Exec(ctx, query,
		payment.ID, payment.OrderID, payment.Provider, payment.TransactionID,
		payment.Amount, payment.Currency, payment.Status, payment.RawResponse,
		payment.ErrorMessage, payment.Metadata, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			r.logger.Warn().
				Str("transaction_id", payment.TransactionID).
				Msg("duplicate transaction id on payment insert")
			return ErrDuplicateTransactionID
		}
		r.logger.Error().
			Err(err).
			Str("payment_id", payment.ID.String()).
			Msg("failed to create payment")
		return fmt.Errorf("failed to create payment: %w", err)
	}

	r.logger.Debug().
		Str("payment_id", payment.ID.String()).
		Str("transaction_id", payment.TransactionID).
		Msg("payment created successfully")

	return nil
}

// row abstracts pgx.Row for the shared scan helper.
type row interface {
	Scan(dest ...any) error
}

func scanPayment(rw row) (*model.Payment, error) {
	var p model.Payment
	err := rw.Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.TransactionID, &p.Amount, &p.Currency,
		&p.Status, &p.RawResponse, &p.ErrorMessage, &p.Metadata, &p.CompletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) getOne(ctx context.Context, query string, arg any, what string) (*model.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if err == pgx.ErrNoRows {
			r.logger.Debug().Interface(what, arg).Msg("payment not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Interface(what, arg).Msg("failed to query payment")
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	return p, nil
}

// GetByID retrieves a payment by its ID.
func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.getOne(ctx, query, id, "payment_id")
}

// GetByTransactionID retrieves a payment by the provider transaction id.
func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`
	return r.getOne(ctx, query, transactionID, "transaction_id")
}

func (r *paymentRepository) getOneForUpdate(ctx context.Context, tx pgx.Tx, query string, arg any, what string) (*model.Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, query, arg))
	if err != nil {
		if err == pgx.ErrNoRows {
			r.logger.Debug().Interface(what, arg).Msg("payment not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Interface(what, arg).Msg("failed to lock payment")
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return p, nil
}

// GetByIDForUpdate locks the payment row for the duration of tx.
func (r *paymentRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.getOneForUpdate(ctx, tx, query, id, "payment_id")
}

// GetByTransactionIDForUpdate locks the payment row for the duration of tx.
func (r *paymentRepository) GetByTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, transactionID string) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1 FOR UPDATE`
	return r.getOneForUpdate(ctx, tx, query, transactionID, "transaction_id")
}

func (r *paymentRepository) queryMany(ctx context.Context, query string, args ...any) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query payments")
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan payment row")
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating payment rows")
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}

// ListByOrder retrieves all payment attempts for an order, newest first.
func (r *paymentRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`
	return r.queryMany(ctx, query, orderID)
}

// List retrieves payments matching the filter, newest first. User scoping
// joins through the owning order.
func (r *paymentRepository) List(ctx context.Context, filter PaymentFilter) ([]model.Payment, error) {
	cols := make([]string, 0, 13)
	for _, c := range strings.Split(paymentColumns, ",") {
		cols = append(cols, "p."+strings.TrimSpace(c))
	}
	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM payments p`

	var conds []string
	var args []any
	if filter.UserID != nil {
		query += ` JOIN orders o ON o.id = p.order_id`
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("o.user_id = $%d", len(args)))
	}
	if filter.Provider != nil {
		args = append(args, *filter.Provider)
		conds = append(conds, fmt.Sprintf("p.provider = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("p.status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.created_at DESC"

	return r.queryMany(ctx, query, args...)
}

// SetProcessing moves the payment to processing.
func (r *paymentRepository) SetProcessing(ctx context.Context, tx pgx.Tx, id uuid.UUID, raw json.RawMessage) error {
	query := `
		UPDATE payments
		SET status = $2, raw_response = COALESCE($3, raw_response), updated_at = now()
		WHERE id = $1
	`

	return r.execStatus(ctx, tx, query, id, model.PaymentStatusProcessing, raw)
}

// SetSucceeded moves the payment to success. completed_at is written once:
// a later duplicate observation never moves it.
func (r *paymentRepository) SetSucceeded(ctx context.Context, tx pgx.Tx, id uuid.UUID, raw json.RawMessage, completedAt time.Time) error {
	query := `
		UPDATE payments
		SET status = $2, raw_response = COALESCE($3, raw_response), error_message = '',
			completed_at = COALESCE(completed_at, $4), updated_at = now()
		WHERE id = $1
	`

	return r.execStatus(ctx, tx, query, id, model.PaymentStatusSuccess, raw, completedAt)
}

// SetFailed moves the payment to failed and records the provider's error.
func (r *paymentRepository) SetFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorMessage string, raw json.RawMessage, completedAt time.Time) error {
	query := `
		UPDATE payments
		SET status = $2, error_message = $3, raw_response = COALESCE($4, raw_response),
			completed_at = COALESCE(completed_at, $5), updated_at = now()
		WHERE id = $1
	`

	return r.execStatus(ctx, tx, query, id, model.PaymentStatusFailed, errorMessage, raw, completedAt)
}

// SetRefunded moves the payment to refunded and stores the refund record.
func (r *paymentRepository) SetRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, metadata map[string]any) error {
	query := `
		UPDATE payments
		SET status = $2, metadata = $3, updated_at = now()
		WHERE id = $1
	`

	return r.execStatus(ctx, tx, query, id, model.PaymentStatusRefunded, metadata)
}

func (r *paymentRepository) execStatus(ctx context.Context, tx pgx.Tx, query string, id uuid.UUID, status model.PaymentStatus, extra ...any) error {
	args := append([]any{id, status}, extra...)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("payment_id", id.String()).
			Str("status", string(status)).
			Msg("failed to update payment status")
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found for status update", id)
	}

	r.logger.Debug().
		Str("payment_id", id.String()).
		Str("status", string(status)).
		Msg("payment status updated")

	return nil
}

// ListForReconciliation retrieves unsettled payments of the given providers
// last touched before olderThan, oldest first.
func (r *paymentRepository) ListForReconciliation(ctx context.Context, providers []model.PaymentProvider, olderThan time.Time, limit int) ([]model.Payment, error) {
	if len(providers) == 0 {
		return nil, nil
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}

	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ($1, $2) AND provider = ANY($3) AND updated_at < $4
		ORDER BY updated_at
		LIMIT $5`

	return r.queryMany(ctx, query,
		model.PaymentStatusPending, model.PaymentStatusProcessing, names, olderThan, limit)
}
