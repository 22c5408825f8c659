package models

import "time"

// User owns workflows, connections and executions. Users are resolved from
// the identity provider by email and auto-provisioned on first sight.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
