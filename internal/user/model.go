package user

import "time"

// GlobalUser is the cross-tenant identity of an end user.
type GlobalUser struct {
	UserID          string
	FirstSeen       time.Time
	DisplayName     *string
	Blacklisted     bool
	BlacklistReason string
	BlacklistedAt   *time.Time
	BlacklistedBy   *string
	LastUpdated     time.Time
}

// TenantUser is a user's leveling state inside one tenant.
type TenantUser struct {
	UserID                string
	TenantID              string
	XP                    int64
	Level                 int
	LastMessageAt         *time.Time
	Sacrifices            int
	SacrificePending      bool
	SacrificePendingUntil *time.Time
	IsBlacklisted         bool
	WarningCount          int
	BannerURL             *string
	AvatarURL             *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Member merges the tenant record with the global identity. Tenant fields are
// promoted; Global is nil when no identity row exists yet.
type Member struct {
	TenantUser
	Global *GlobalUser
}

// DisplayName returns the global display name or the user id.
func (m *Member) DisplayName() string {
	if m.Global != nil && m.Global.DisplayName != nil && *m.Global.DisplayName != "" {
		return *m.Global.DisplayName
	}
	return m.UserID
}

// XPResult is the snapshot returned by AddXP.
type XPResult struct {
	LeveledUp     bool
	OldLevel      int
	NewLevel      int
	CurrentXP     int64
	XPToNextLevel int64
}
