package service

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// PushMessage is one payment notification addressed to a device.
type PushMessage struct {
	Token string
	Type  string
	Title string
	Body  string
	// PaymentID groups pushes so a later outcome replaces an earlier one on the device.
	PaymentID string
	Data      map[string]string
}

// Pusher delivers push notifications.
type Pusher interface {
	Push(ctx context.Context, msg PushMessage) error
}

// FCMService pushes through Firebase Cloud Messaging.
type FCMService struct {
	client *messaging.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewFCMService returns nil when Firebase is not configured or cannot start.
func NewFCMService(ctx context.Context, serviceAccountPath string, log *zap.Logger) *FCMService {
	if serviceAccountPath == "" {
		log.Info("push disabled: no firebase service account")
		return nil
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		log.Error("firebase app init failed", zap.Error(err))
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Error("firebase messaging client failed", zap.Error(err))
		return nil
	}
	return &FCMService{client: client, ttl: 24 * time.Hour, log: log}
}

func (s *FCMService) Push(ctx context.Context, msg PushMessage) error {
	if s == nil || msg.Token == "" {
		return nil
	}
	_, err := s.client.Send(ctx, buildFCMMessage(msg, s.ttl))
	if err != nil {
		s.log.Warn("fcm send failed", zap.String("type", msg.Type), zap.String("payment_id", msg.PaymentID), zap.Error(err))
		return err
	}
	return nil
}

func buildFCMMessage(msg PushMessage, ttl time.Duration) *messaging.Message {
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["type"] = msg.Type
	collapse := "payment-" + msg.PaymentID
	return &messaging.Message{
		Token: msg.Token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			CollapseKey: collapse,
			Priority:    "high",
			TTL:         &ttl,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-collapse-id": collapse},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ThreadID: collapse, Sound: "default"},
			},
		},
	}
}
