// internal/workers/inventory/stock-alert-sweep/models.go
package stockalert

// Input is the sweep job payload. An empty TenantID means every tenant with
// the shop capability active.
type Input struct {
	TenantID string `json:"tenantId,omitempty"`
}

type Output struct {
	TenantsProcessed int    `json:"tenantsProcessed"`
	LowStockAlerts   int    `json:"lowStockAlerts"`
	OutOfStockAlerts int    `json:"outOfStockAlerts"`
	AlertsFailed     int    `json:"alertsFailed"`
	CompletedAt      string `json:"completedAt"` // ISO 8601
}
