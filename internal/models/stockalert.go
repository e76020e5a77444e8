// internal/models/stockalert.go
package models

import (
	"database/sql"
	"time"
)

// StockAlert is a customer "notify me when available" request.
type StockAlert struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	ProductID   string         `json:"productId"`
	VariantID   sql.NullString `json:"variantId"`
	Email       string         `json:"email"`
	Status      string         `json:"status"` // "pending", "sent", "cancelled"
	FulfilledAt sql.NullTime   `json:"fulfilledAt"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// StockAlert statuses. "sent" and "cancelled" are terminal.
const (
	StockAlertStatusPending   = "pending"
	StockAlertStatusSent      = "sent"
	StockAlertStatusCancelled = "cancelled"
)

// Staff alert types, deduplicated per entity per 24h window.
const (
	AlertTypeLowStock   = "low_stock"
	AlertTypeOutOfStock = "out_of_stock"
)

// Alert log entity kinds.
const (
	AlertEntityProduct = "product"
	AlertEntityVariant = "variant"
)
