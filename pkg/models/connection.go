package models

import "time"

// Connection stores credentials for an external service, supplied to
// workflows as configuration data. Credentials are an open map and are never
// written to logs.
type Connection struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerId"`
	Name        string         `json:"connectionName"`
	ServiceType string         `json:"serviceType"`
	Credentials map[string]any `json:"credentials"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
