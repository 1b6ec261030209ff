package subscription

import (
	"context"
	"fmt"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/audit"
	"github.com/platinummonkey/creditgate/pkg/auth"
)

// DefaultPaymentMethod is used when a payment is recorded without a method
const DefaultPaymentMethod = "bank_transfer"

// RecordPayment registers a pending payment for an organization
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, error) {
	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.New(apperr.CodeInvalidAmount).With("amount", req.Amount.String())
	}
	method := req.Method
	if method == "" {
		method = DefaultPaymentMethod
	}

	var payment *Payment
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetOrganization(ctx, req.OrgID); err != nil {
			return notFound(err, apperr.CodeOrgNotFound, "orgId", req.OrgID)
		}

		now := s.now()
		payment = &Payment{
			ID:             s.newID(),
			OrganizationID: req.OrgID,
			Amount:         req.Amount,
			Method:         method,
			Status:         PaymentPending,
			Reference:      req.Reference,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.NewEvent(ctx, audit.EventTypePaymentRecorded, req.OrgID).
		WithResource(audit.ResourceTypePayment, payment.ID).
		WithMetadata("amount", payment.Amount.String()).
		WithMetadata("method", payment.Method))
	return payment, nil
}

// ConfirmPayment moves a pending payment to confirmed
func (s *Service) ConfirmPayment(ctx context.Context, paymentID, note string) (*Payment, error) {
	return s.transitionPayment(ctx, paymentID, PaymentConfirmed, audit.EventTypePaymentConfirmed, note)
}

// RejectPayment moves a pending payment to rejected
func (s *Service) RejectPayment(ctx context.Context, paymentID, note string) (*Payment, error) {
	return s.transitionPayment(ctx, paymentID, PaymentRejected, audit.EventTypePaymentRejected, note)
}

// RefundPayment moves a confirmed payment to refunded. The period it paid
// for is left alone; suspending the organization is a separate decision.
func (s *Service) RefundPayment(ctx context.Context, paymentID, note string) (*Payment, error) {
	return s.transitionPayment(ctx, paymentID, PaymentRefunded, audit.EventTypePaymentRefunded, note)
}

func (s *Service) transitionPayment(ctx context.Context, paymentID string, to PaymentStatus, eventType audit.EventType, note string) (*Payment, error) {
	if err := auth.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	var payment *Payment
	var from PaymentStatus
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return notFound(err, apperr.CodePaymentNotFound, "paymentId", paymentID)
		}
		if !p.Status.CanTransitionTo(to) {
			return apperr.New(apperr.CodeInvalidStatusTransition).
				With("paymentId", paymentID).
				With("from", string(p.Status)).
				With("to", string(to))
		}

		from = p.Status
		p.Status = to
		p.UpdatedAt = s.now()
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.NewEvent(ctx, eventType, payment.OrganizationID).
		WithResource(audit.ResourceTypePayment, payment.ID).
		WithMessage(note).
		WithChanges(
			map[string]interface{}{"status": from},
			map[string]interface{}{"status": payment.Status},
		))
	return payment, nil
}
