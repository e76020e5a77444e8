// internal/models/tenant.go
package models

import "time"

type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TenantCapability is one optionally-activated feature module for a tenant,
// with its raw configuration blob.
type TenantCapability struct {
	TenantID   string    `json:"tenantId"`
	Capability string    `json:"capability"` // e.g. "shop"
	Config     []byte    `json:"config"`     // raw JSON blob
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
	Active   bool   `json:"active"`
}

// Capability slugs known to this engine.
const (
	CapabilityShop = "shop"
)
