package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/internal/repository"

	"go.uber.org/zap"
)

type NotificationService struct {
	repo   *repository.NotificationRepository
	pusher Pusher
	log    *zap.Logger
}

func NewNotificationService(repo *repository.NotificationRepository, pusher Pusher, log *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher, log: log}
}

// Notify stores the notification and pushes it when the user has a device token.
func (s *NotificationService) Notify(ctx context.Context, userID uint, msg PushMessage) error {
	var dataJSON string
	if msg.Data != nil {
		b, _ := json.Marshal(msg.Data)
		dataJSON = string(b)
	}
	err := s.repo.Create(ctx, &models.Notification{
		UserID: userID,
		Type:   msg.Type,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   dataJSON,
	})
	if err != nil {
		return err
	}
	s.push(ctx, userID, msg)
	return nil
}

func (s *NotificationService) push(ctx context.Context, userID uint, msg PushMessage) {
	if s.pusher == nil {
		return
	}
	token, err := s.repo.PushToken(ctx, userID)
	if err != nil || token == "" {
		return
	}
	msg.Token = token
	if err := s.pusher.Push(ctx, msg); err != nil {
		s.log.Warn("push failed", zap.Uint("user_id", userID), zap.String("type", msg.Type), zap.Error(err))
	}
}

// NotifyPaymentOutcome tells the payer a payment reached a terminal state. Other
// states are not surfaced.
func (s *NotificationService) NotifyPaymentOutcome(ctx context.Context, p *models.Payment) error {
	id := strconv.FormatUint(uint64(p.ID), 10)
	amount := fmt.Sprintf("%d %s", p.Amount, p.Currency)
	msg := PushMessage{
		PaymentID: id,
		Data: map[string]string{
			"payment_id":     id,
			"transaction_id": p.TransactionID,
			"amount":         strconv.FormatInt(p.Amount, 10),
			"currency":       p.Currency,
		},
	}
	switch p.Status {
	case domain.StatusCompleted:
		msg.Type, msg.Title = domain.NotifPaymentCompleted, "Payment confirmed"
		msg.Body = "Your payment of " + amount + " was successful."
	case domain.StatusFailed:
		msg.Type, msg.Title = domain.NotifPaymentFailed, "Payment failed"
		msg.Body = "Your payment of " + amount + " did not go through (" + failureText(p.FailureCode) + ")."
		msg.Data["reason"] = p.FailureCode
	case domain.StatusCancelled:
		msg.Type, msg.Title = domain.NotifPaymentCancelled, "Payment cancelled"
		msg.Body = "Your payment of " + amount + " was cancelled."
		msg.Data["reason"] = p.FailureCode
	case domain.StatusRefunded:
		msg.Type, msg.Title = domain.NotifPaymentRefunded, "Payment refunded"
		msg.Body = "Your payment of " + amount + " was refunded."
	default:
		return nil
	}
	return s.Notify(ctx, p.UserID, msg)
}

func failureText(code string) string {
	switch code {
	case domain.FailureDeclined:
		return "declined by the provider"
	case domain.FailureExpired:
		return "the payment request expired"
	case domain.FailureCancelledByUser:
		return "cancelled"
	case domain.FailureGatewayError:
		return "provider error"
	default:
		return "unknown reason"
	}
}
