// internal/models/product.go
package models

type Product struct {
	ID                string `json:"id"`
	TenantID          string `json:"tenantId"`
	Name              string `json:"name"`
	StockQuantity     int    `json:"stockQuantity"`
	LowStockThreshold int    `json:"lowStockThreshold"`
	TrackInventory    bool   `json:"trackInventory"`
	Status            string `json:"status"` // "active", "inactive"
	Visible           bool   `json:"visible"`
}

type ProductVariant struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stockQuantity"`
}

const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)
