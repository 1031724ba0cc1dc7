package model

import "time"

// Exception is a recoverable failure persisted so it can be correlated later
// across the tick, order and trade streams.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Module string `gorm:"size:100;index" json:"module"` // e.g. "feed", "trades"
	Method string `gorm:"size:100" json:"method"`       // e.g. "submitClose"
	Kind   string `gorm:"size:40;index" json:"kind"`    // error taxonomy class

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"`

	// Correlation keys, empty when not applicable.
	Token   string `gorm:"size:32;index" json:"token,omitempty"`
	TradeID string `gorm:"size:36" json:"trade_id,omitempty"`
	OrderID string `gorm:"size:40" json:"order_id,omitempty"`

	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
