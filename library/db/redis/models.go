package redis

import "time"

// ActivityEvent is the json document pushed for every recorded activity.
type ActivityEvent struct {
	EventID      string    `json:"event_id"`
	UserID       uint64    `json:"user_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   uint64    `json:"resource_id,omitempty"`
	ResourceName string    `json:"resource_name"`
	Details      string    `json:"details,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
