// internal/models/cart.go
package models

import (
	"database/sql"
	"time"
)

type Cart struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenantId"`
	Status             string         `json:"status"` // "active", "abandoned"
	Email              sql.NullString `json:"email"`
	ExpiresAt          sql.NullTime   `json:"expiresAt"`
	RecoveryEmailsSent int            `json:"recoveryEmailsSent"`
	LastRecoverySentAt sql.NullTime   `json:"lastRecoverySentAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	ItemCount          int            `json:"itemCount"`
}

type CartItem struct {
	ID        string         `json:"id"`
	CartID    string         `json:"cartId"`
	ProductID string         `json:"productId"`
	VariantID sql.NullString `json:"variantId"`
	Quantity  int            `json:"quantity"`
}

// Cart statuses. Deletion is a hard delete, not a status.
const (
	CartStatusActive    = "active"
	CartStatusAbandoned = "abandoned"
)
