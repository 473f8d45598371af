package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commerce-core/internal/model"
	"commerce-core/internal/provider"
	"commerce-core/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// paymentService implements PaymentService.
type paymentService struct {
	paymentRepo repository.PaymentRepository
	orderRepo   repository.OrderRepository
	orders      OrderService
	registry    *provider.Registry
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	orderRepo repository.OrderRepository,
	orders OrderService,
	registry *provider.Registry,
	logger zerolog.Logger,
) PaymentService {
	return &paymentService{
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		orders:      orders,
		registry:    registry,
		logger:      logger.With().Str("service", "payment").Logger(),
		now:         time.Now,
	}
}

// authorize enforces ownership through the parent order.
func (s *paymentService) authorize(ctx context.Context, payment *model.Payment, ident *model.Identity) error {
	if ident.IsAdmin() {
		return nil
	}
	order, err := s.orderRepo.GetByID(ctx, payment.OrderID)
	if err != nil {
		return fmt.Errorf("failed to authorize payment access: %w", err)
	}
	if order == nil || !ident.CanAccess(order.UserID) {
		s.logger.Warn().
			Str("payment_id", payment.ID.String()).
			Str("user_id", ident.UserID.String()).
			Msg("payment access denied")
		return model.ErrForbidden
	}
	return nil
}

// Get retrieves a payment by id.
func (s *paymentService) Get(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if payment == nil {
		return nil, model.ErrPaymentNotFound
	}
	if err := s.authorize(ctx, payment, ident); err != nil {
		return nil, err
	}
	return payment, nil
}

// List retrieves payments matching the optional provider and status filters,
// scoped to the caller unless it is administrative.
func (s *paymentService) List(ctx context.Context, ident *model.Identity, providerName, status string) ([]model.Payment, error) {
	filter := repository.PaymentFilter{}
	if providerName != "" {
		parsed, err := model.ParsePaymentProvider(providerName)
		if err != nil {
			return nil, err
		}
		filter.Provider = &parsed
	}
	if status != "" {
		parsed, err := model.ParsePaymentStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &parsed
	}
	if !ident.IsAdmin() {
		filter.UserID = &ident.UserID
	}

	payments, err := s.paymentRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// Confirm executes a pending payment with its provider and applies the
// reported outcome. The provider call happens outside any transaction; state
// only changes once the provider has answered.
func (s *paymentService) Confirm(ctx context.Context, transactionID string, ident *model.Identity) (*model.Payment, error) {
	if transactionID == "" {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Transaction id is required")
	}

	payment, err := s.paymentRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}
	if payment == nil {
		return nil, model.ErrPaymentNotFound
	}
	if err := s.authorize(ctx, payment, ident); err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Payment cannot be confirmed from status %q", payment.Status))
	}

	prov, err := s.registry.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}

	confirmation, err := prov.ConfirmPayment(ctx, transactionID)
	if err != nil {
		// A definitive rejection settles the payment; a transport fault
		// leaves it untouched for a later retry or poll.
		if model.CodeOf(err) == model.ErrCodeProviderFailure {
			if _, applyErr := s.ApplyFailure(ctx, transactionID, err.Error(), nil); applyErr != nil {
				s.logger.Error().
					Err(applyErr).
					Str("transaction_id", transactionID).
					Msg("failed to record provider rejection")
			}
		}
		return nil, err
	}

	return s.applyOutcome(ctx, transactionID, confirmation.Status, "", confirmation.RawResponse)
}

// Status polls the provider and reconciles the stored payment when the
// provider reports a settled outcome. Settled payments are never rewritten.
func (s *paymentService) Status(ctx context.Context, transactionID string, ident *model.Identity) (*PaymentStatusResult, error) {
	payment, err := s.paymentRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment status: %w", err)
	}
	if payment == nil {
		return nil, model.ErrPaymentNotFound
	}
	if err := s.authorize(ctx, payment, ident); err != nil {
		return nil, err
	}

	prov, err := s.registry.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}

	snapshot, err := prov.GetStatus(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if !payment.Status.Settled() {
		if payment, err = s.applyOutcome(ctx, transactionID, snapshot.Status, "", snapshot.RawResponse); err != nil {
			return nil, err
		}
	}

	return &PaymentStatusResult{Payment: payment, ProviderStatus: snapshot.Status}, nil
}

// applyOutcome folds a provider-reported state into the stored payment.
func (s *paymentService) applyOutcome(ctx context.Context, transactionID string, status provider.Status, message string, raw json.RawMessage) (*model.Payment, error) {
	switch status {
	case provider.StatusSucceeded:
		return s.ApplySuccess(ctx, transactionID, raw)
	case provider.StatusFailed:
		if message == "" {
			message = "Payment failed"
		}
		return s.ApplyFailure(ctx, transactionID, message, raw)
	case provider.StatusCancelled:
		return s.ApplyFailure(ctx, transactionID, "Payment cancelled by provider", raw)
	case provider.StatusProcessing:
		return s.markProcessing(ctx, transactionID, raw)
	default:
		// Nothing settled yet; report the stored record as is.
		payment, err := s.paymentRepo.GetByTransactionID(ctx, transactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get payment: %w", err)
		}
		if payment == nil {
			return nil, model.ErrPaymentNotFound
		}
		return payment, nil
	}
}

// ApplySuccess records a provider-confirmed success. The payment row is
// locked first, then MarkPaid locks the order row; every code path acquires
// these locks in that order. Marking the order paid is part of the same
// transaction, so stock moves exactly once no matter how many channels
// report the success.
func (s *paymentService) ApplySuccess(ctx context.Context, transactionID string, raw json.RawMessage) (*model.Payment, error) {
	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to apply payment success: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var payment *model.Payment
	if payment, err = s.paymentRepo.GetByTransactionIDForUpdate(ctx, tx, transactionID); err != nil {
		return nil, fmt.Errorf("failed to apply payment success: %w", err)
	}
	if payment == nil {
		err = model.ErrPaymentNotFound
		return nil, err
	}

	if payment.Status == model.PaymentStatusSuccess {
		s.logger.Debug().
			Str("transaction_id", transactionID).
			Msg("success already recorded")
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply payment success: %w", err)
		}
		return payment, nil
	}
	if !payment.Status.CanTransitionTo(model.PaymentStatusSuccess) {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Cannot record success for payment in status %q", payment.Status))
		return nil, err
	}

	completedAt := s.now().UTC()
	if err = s.paymentRepo.SetSucceeded(ctx, tx, payment.ID, raw, completedAt); err != nil {
		return nil, fmt.Errorf("failed to apply payment success: %w", err)
	}

	if err = s.orders.MarkPaid(ctx, tx, payment.OrderID); err != nil {
		if model.CodeOf(err) == model.ErrCodeInvalidTransition {
			// The order settled through another path; the payment record
			// still carries the provider's outcome.
			s.logger.Warn().
				Str("transaction_id", transactionID).
				Str("order_id", payment.OrderID.String()).
				Err(err).
				Msg("order no longer markable as paid")
			err = nil
		} else {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to apply payment success: %w", err)
	}

	payment.Status = model.PaymentStatusSuccess
	if raw != nil {
		payment.RawResponse = raw
	}
	if payment.CompletedAt == nil {
		payment.CompletedAt = &completedAt
	}
	payment.ErrorMessage = ""

	s.logger.Info().
		Str("transaction_id", transactionID).
		Str("payment_id", payment.ID.String()).
		Str("order_id", payment.OrderID.String()).
		Msg("payment succeeded")

	return payment, nil
}

// ApplyFailure records a provider-confirmed failure.
func (s *paymentService) ApplyFailure(ctx context.Context, transactionID, errorMessage string, raw json.RawMessage) (*model.Payment, error) {
	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to apply payment failure: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var payment *model.Payment
	if payment, err = s.paymentRepo.GetByTransactionIDForUpdate(ctx, tx, transactionID); err != nil {
		return nil, fmt.Errorf("failed to apply payment failure: %w", err)
	}
	if payment == nil {
		err = model.ErrPaymentNotFound
		return nil, err
	}

	if payment.Status == model.PaymentStatusFailed {
		s.logger.Debug().
			Str("transaction_id", transactionID).
			Msg("failure already recorded")
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply payment failure: %w", err)
		}
		return payment, nil
	}
	if !payment.Status.CanTransitionTo(model.PaymentStatusFailed) {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Cannot record failure for payment in status %q", payment.Status))
		return nil, err
	}

	completedAt := s.now().UTC()
	if err = s.paymentRepo.SetFailed(ctx, tx, payment.ID, errorMessage, raw, completedAt); err != nil {
		return nil, fmt.Errorf("failed to apply payment failure: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to apply payment failure: %w", err)
	}

	payment.Status = model.PaymentStatusFailed
	payment.ErrorMessage = errorMessage
	if raw != nil {
		payment.RawResponse = raw
	}
	if payment.CompletedAt == nil {
		payment.CompletedAt = &completedAt
	}

	s.logger.Info().
		Str("transaction_id", transactionID).
		Str("payment_id", payment.ID.String()).
		Str("error", errorMessage).
		Msg("payment failed")

	return payment, nil
}

// markProcessing moves a pending payment to processing. Anything past
// pending is left alone.
func (s *paymentService) markProcessing(ctx context.Context, transactionID string, raw json.RawMessage) (*model.Payment, error) {
	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to mark payment processing: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var payment *model.Payment
	if payment, err = s.paymentRepo.GetByTransactionIDForUpdate(ctx, tx, transactionID); err != nil {
		return nil, fmt.Errorf("failed to mark payment processing: %w", err)
	}
	if payment == nil {
		err = model.ErrPaymentNotFound
		return nil, err
	}
	if payment.Status != model.PaymentStatusPending {
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to mark payment processing: %w", err)
		}
		return payment, nil
	}

	if err = s.paymentRepo.SetProcessing(ctx, tx, payment.ID, raw); err != nil {
		return nil, fmt.Errorf("failed to mark payment processing: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark payment processing: %w", err)
	}

	payment.Status = model.PaymentStatusProcessing
	if raw != nil {
		payment.RawResponse = raw
	}
	return payment, nil
}

// Refund reverses a successful payment. The provider call runs outside any
// transaction; the stored record flips to refunded only after the provider
// accepted the refund, re-checked under a row lock.
func (s *paymentService) Refund(ctx context.Context, paymentID uuid.UUID, req *model.RefundRequest, ident *model.Identity) (*model.RefundResponse, error) {
	if !ident.IsAdmin() {
		return nil, model.ErrAdminRequired
	}

	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}
	if payment == nil {
		return nil, model.ErrPaymentNotFound
	}
	if !payment.CanBeRefunded() {
		return nil, model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Payment cannot be refunded from status %q", payment.Status))
	}

	var amount *decimal.Decimal
	reason := ""
	if req != nil {
		amount = req.Amount
		reason = req.Reason
	}
	if amount != nil {
		if !amount.IsPositive() {
			return nil, model.NewDomainError(model.ErrCodeValidation, "Refund amount must be positive")
		}
		if amount.GreaterThan(payment.Amount) {
			return nil, model.NewDomainError(model.ErrCodeValidation, "Refund amount exceeds the captured amount")
		}
	}

	prov, err := s.registry.Resolve(payment.Provider)
	if err != nil {
		return nil, err
	}

	result, err := prov.Refund(ctx, payment.TransactionID, amount, reason)
	if err != nil {
		return nil, err
	}

	tx, err := s.paymentRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var locked *model.Payment
	if locked, err = s.paymentRepo.GetByIDForUpdate(ctx, tx, paymentID); err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	if locked == nil {
		err = model.ErrPaymentNotFound
		return nil, err
	}
	if !locked.CanBeRefunded() {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Payment cannot be refunded from status %q", locked.Status))
		return nil, err
	}

	refunded := locked.Amount
	if amount != nil {
		refunded = *amount
	}
	metadata := locked.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["refund"] = map[string]any{
		"refund_id": result.RefundID,
		"amount":    refunded.String(),
		"reason":    reason,
	}

	if err = s.paymentRepo.SetRefunded(ctx, tx, paymentID, metadata); err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("payment_id", paymentID.String()).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	s.logger.Info().
		Str("payment_id", paymentID.String()).
		Str("refund_id", result.RefundID).
		Str("amount", refunded.String()).
		Msg("payment refunded")

	return &model.RefundResponse{
		PaymentID: paymentID,
		RefundID:  result.RefundID,
		Status:    model.PaymentStatusRefunded,
	}, nil
}

// HandleWebhook verifies and applies one webhook delivery. Unknown
// transactions and outcomes conflicting with an already-settled payment are
// acknowledged without error: retrying the delivery cannot fix either.
func (s *paymentService) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) error {
	name, err := model.ParsePaymentProvider(providerName)
	if err != nil {
		return err
	}
	prov, err := s.registry.Resolve(name)
	if err != nil {
		return err
	}

	notification, err := prov.HandleNotification(payload, signature)
	if err != nil {
		if !errors.Is(err, provider.ErrWebhooksUnsupported) {
			s.logger.Warn().
				Err(err).
				Str("provider", string(name)).
				Msg("webhook rejected")
		}
		return err
	}

	logger := s.logger.With().
		Str("provider", string(name)).
		Str("event_type", notification.EventType).
		Logger()

	switch notification.Kind {
	case provider.EventSucceeded:
		_, err = s.ApplySuccess(ctx, notification.TransactionID, notification.RawData)
	case provider.EventFailed:
		_, err = s.ApplyFailure(ctx, notification.TransactionID, notification.ErrorMessage, notification.RawData)
	default:
		logger.Debug().Msg("webhook event ignored")
		return nil
	}

	if err != nil {
		switch model.CodeOf(err) {
		case model.ErrCodeNotFound:
			logger.Warn().
				Str("transaction_id", notification.TransactionID).
				Msg("webhook for unknown transaction")
			return nil
		case model.ErrCodeInvalidTransition:
			logger.Warn().
				Err(err).
				Str("transaction_id", notification.TransactionID).
				Msg("webhook conflicts with settled payment")
			return nil
		}
		return err
	}

	logger.Info().
		Str("transaction_id", notification.TransactionID).
		Msg("webhook processed")
	return nil
}
