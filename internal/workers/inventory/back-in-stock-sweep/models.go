// internal/workers/inventory/back-in-stock-sweep/models.go
package backinstock

// Input is the sweep job payload. A non-empty ProductID restricts the sweep
// to the pending alerts of that single product (used right after a restock).
// Otherwise an empty TenantID means every tenant with the shop capability
// active.
type Input struct {
	TenantID  string `json:"tenantId,omitempty"`
	ProductID string `json:"productId,omitempty"`
}

type Output struct {
	TenantsProcessed int    `json:"tenantsProcessed"`
	AlertsSent       int    `json:"alertsSent"`
	AlertsCancelled  int    `json:"alertsCancelled"`
	AlertsFailed     int    `json:"alertsFailed"`
	CompletedAt      string `json:"completedAt"` // ISO 8601
}
