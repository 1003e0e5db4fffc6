package domain

import "time"

type PushEndpoint struct {
	ID           string     `json:"id"`
	RecipientID  string     `json:"recipientId"`
	Endpoint     string     `json:"endpoint"`
	P256dh       string     `json:"p256dh"`
	Auth         string     `json:"auth"`
	UserAgent    string     `json:"userAgent,omitempty"`
	IsActive     bool       `json:"isActive"`
	FailureCount int        `json:"failureCount"`
	LastSuccess  *time.Time `json:"lastSuccess,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
