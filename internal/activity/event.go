package activity

import "time"

const (
	TypeConnected = "connected"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Event is one frame on the activity channel.
type Event struct {
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Timestamp      time.Time `json:"ts"`
	Payload        any       `json:"payload,omitempty"`
}

// BulkSummary is the payload of a committed bulk batch, counted for one organization.
type BulkSummary struct {
	Source         string `json:"source"`
	BatchID        string `json:"batch_id"`
	ProcessedCount int    `json:"processed_count"`
	InsertedTotal  int    `json:"inserted_total"`
	UpdatedTotal   int    `json:"updated_total"`
}

// ClientFrame is what subscribers send back. Only pong is understood.
type ClientFrame struct {
	Type string `json:"type"`
}
