// internal/workers/carts/cart-recovery-sweep/models.go
package cartrecovery

// Input is the sweep job payload. An empty TenantID means every tenant with
// the shop capability active.
type Input struct {
	TenantID string `json:"tenantId,omitempty"`
}

type Output struct {
	TenantsProcessed int    `json:"tenantsProcessed"`
	CartsAbandoned   int    `json:"cartsAbandoned"`
	EmailsSent       int    `json:"emailsSent"`
	EmailsFailed     int    `json:"emailsFailed"`
	CompletedAt      string `json:"completedAt"` // ISO 8601
}
