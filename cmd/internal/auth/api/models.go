package authapi

import "time"

// Wire types. Field names are camelCase; clients on both platforms decode
// this shape.

type refreshRequest struct {
	DeviceToken string `json:"deviceToken"`
	DeviceID    string `json:"deviceId"`
	UserAgent   string `json:"userAgent"`
	AppVersion  string `json:"appVersion"`
}

type refreshResponse struct {
	DeviceToken      string    `json:"deviceToken"`
	DeviceExpiresAt  time.Time `json:"deviceExpiresAt"`
	CSRFToken        string    `json:"csrfToken,omitempty"`
	SessionToken     string    `json:"sessionToken,omitempty"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

type meResponse struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
