package service

import (
	"paycore/config"
	"paycore/pkg/payment"

	"go.uber.org/zap"
)

// NewGatewayRegistry registers every gateway that has credentials configured.
func NewGatewayRegistry(cfg config.GatewayConfig, log *zap.Logger) *payment.Registry {
	reg := payment.NewRegistry()
	if cfg.CinetPay.APIKey != "" && cfg.CinetPay.SiteID != "" {
		reg.Register(payment.NewCinetPayGateway(cfg.CinetPay.BaseURL, cfg.CinetPay.APIKey, cfg.CinetPay.SiteID, cfg.CinetPay.SecretKey))
	}
	if cfg.Fapshi.APIUser != "" && cfg.Fapshi.APIKey != "" {
		reg.Register(payment.NewFapshiGateway(cfg.Fapshi.BaseURL, cfg.Fapshi.APIUser, cfg.Fapshi.APIKey))
	}
	if cfg.PayPal.ClientID != "" && cfg.PayPal.ClientSecret != "" {
		reg.Register(payment.NewPayPalGateway(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.WebhookID))
	}
	if cfg.Manual.WebhookSecret != "" {
		reg.Register(payment.NewManualGateway(cfg.Manual.WebhookSecret))
	}
	log.Info("payment gateways configured", zap.Strings("gateways", reg.Kinds()))
	return reg
}
