package domain

import "time"

// MaxTrustedDevices caps the per-user trusted device list.
const MaxTrustedDevices = 10

type AdminUser struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name             string     `gorm:"size:200" json:"name"`
	PasswordHash     string     `gorm:"size:255;not null" json:"-"`
	Role             Role       `gorm:"size:32;not null;default:'viewer'" json:"role"`
	Active           bool       `gorm:"not null;default:true" json:"active"`
	TrustedDevices   []string   `gorm:"serializer:json;type:text" json:"-"`
	OTPCode          string     `gorm:"size:16" json:"-"`
	OTPExpiresAt     *time.Time `json:"-"`
	PendingSessionID string     `gorm:"size:64" json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (AdminUser) TableName() string { return "admin_users" }

func (u *AdminUser) IsTrustedDevice(deviceID string) bool {
	if deviceID == "" {
		return false
	}
	for _, d := range u.TrustedDevices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// RememberDevice moves deviceID to the front of the trusted list, dropping
// duplicates and anything past MaxTrustedDevices.
func (u *AdminUser) RememberDevice(deviceID string) {
	if deviceID == "" {
		return
	}
	next := make([]string, 0, MaxTrustedDevices)
	next = append(next, deviceID)
	for _, d := range u.TrustedDevices {
		if len(next) == MaxTrustedDevices {
			break
		}
		if d == deviceID || d == "" {
			continue
		}
		next = append(next, d)
	}
	u.TrustedDevices = next
}

func (u *AdminUser) ClearOTP() {
	u.OTPCode = ""
	u.OTPExpiresAt = nil
	u.PendingSessionID = ""
}
