// internal/workers/carts/cart-lifecycle-sweep/models.go
package cartlifecycle

// Input is the sweep job payload. An empty TenantID means every tenant with
// the shop capability active.
type Input struct {
	TenantID string `json:"tenantId,omitempty"`
}

type Output struct {
	TenantsProcessed int    `json:"tenantsProcessed"`
	ExpiredDeleted   int    `json:"expiredDeleted"`
	EmptyDeleted     int    `json:"emptyDeleted"`
	CompletedAt      string `json:"completedAt"` // ISO 8601
}
