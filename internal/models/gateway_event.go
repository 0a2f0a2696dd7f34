package models

import (
	"encoding/json"
	"time"
)

// GatewayEventType classifies an entry in the gateway audit log.
type GatewayEventType string

const (
	GatewayEventIntentCreated   GatewayEventType = "intent_created"
	GatewayEventClientConfirmed GatewayEventType = "client_confirmed"
	GatewayEventVerifyResult    GatewayEventType = "verify_result"
	GatewayEventWebhookReceived GatewayEventType = "webhook_received"
	GatewayEventManualComplete  GatewayEventType = "manual_complete"
	GatewayEventRefund          GatewayEventType = "refund"
)

// GatewayEvent is an append-only audit row for every gateway interaction.
// Webhook payloads are stored here before they are processed, so a
// mishandled notification can always be replayed.
type GatewayEvent struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	PaymentID *uint            `gorm:"index" json:"payment_id,omitempty"`
	Gateway   PaymentGateway   `gorm:"type:varchar(50);not null" json:"gateway"`
	EventType GatewayEventType `gorm:"type:varchar(50);not null" json:"event_type"`
	Reference string           `gorm:"type:varchar(100);index" json:"reference"`
	Metadata  json.RawMessage  `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

func (GatewayEvent) TableName() string {
	return "gateway_events"
}
