package models

import (
	"time"

	"gorm.io/datatypes"
)

type GatewayEventOutcome string

const (
	EventProcessed GatewayEventOutcome = "processed"
	EventDuplicate GatewayEventOutcome = "duplicate"
	EventIgnored   GatewayEventOutcome = "ignored"
	EventRejected  GatewayEventOutcome = "rejected"
	EventFailed    GatewayEventOutcome = "failed"
)

// GatewayEvent logs one webhook delivery as it was received.
type GatewayEvent struct {
	ID            uint                `gorm:"primarykey" json:"id"`
	Gateway       Gateway             `gorm:"type:varchar(20);not null" json:"gateway"`
	TransactionID string              `gorm:"type:varchar(64);index" json:"transaction_id,omitempty"`
	GatewayStatus string              `gorm:"type:varchar(50)" json:"gateway_status,omitempty"`
	Payload       datatypes.JSON      `json:"payload"`
	Signature     string              `gorm:"type:text" json:"-"`
	Outcome       GatewayEventOutcome `gorm:"type:varchar(20);not null" json:"outcome"`
	Detail        string              `gorm:"type:text" json:"detail,omitempty"`
	ReceivedAt    time.Time           `gorm:"not null" json:"received_at"`
}

func (GatewayEvent) TableName() string {
	return "gateway_events"
}
