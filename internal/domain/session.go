package domain

import "time"

type DeviceInfo struct {
	UserAgent   string `json:"userAgent"`
	IP          string `json:"ip"`
	Fingerprint string `json:"fingerprint"`
}

// SessionRecord is the server-side session stored under session:{SessionID}.
type SessionRecord struct {
	SessionID         string      `json:"sessionId"`
	OwnerID           uint        `json:"ownerId"`
	Email             string      `json:"email"`
	Role              Role        `json:"role"`
	Permissions       Permissions `json:"permissions"`
	Device            DeviceInfo  `json:"deviceInfo"`
	CreatedAt         time.Time   `json:"createdAt"`
	LastAccessedAt    time.Time   `json:"lastAccessedAt"`
	ExpiresAt         time.Time   `json:"expiresAt"`
	TwoFactorVerified bool        `json:"twoFactorVerified"`
	IsTemporary       bool        `json:"isTemporary"`
}
