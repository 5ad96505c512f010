package prefs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// prefsKey is the single row the preferences blob lives under.
const prefsKey = "preferences"

// Preferences is the full local settings document.
type Preferences struct {
	Theme         string            `json:"theme"`
	Notifications NotificationPrefs `json:"notifications"`
	Privacy       PrivacyPrefs      `json:"privacy"`
	Chat          ChatPrefs         `json:"chat"`
	UI            UIPrefs           `json:"ui"`
}

type NotificationPrefs struct {
	Sound   bool `json:"sound"`
	Desktop bool `json:"desktop"`
	Email   bool `json:"email"`
}

type PrivacyPrefs struct {
	ShowLastSeen     bool `json:"showLastSeen"`
	ShowOnlineStatus bool `json:"showOnlineStatus"`
}

type ChatPrefs struct {
	EnterToSend    bool   `json:"enterToSend"`
	ShowTimestamps bool   `json:"showTimestamps"`
	FontSize       string `json:"fontSize"`
}

type UIPrefs struct {
	SidebarWidth int  `json:"sidebarWidth"`
	CompactMode  bool `json:"compactMode"`
	ShowAvatars  bool `json:"showAvatars"`
}

// Defaults returns the preferences a fresh profile starts with.
func Defaults() Preferences {
	return Preferences{
		Theme: "dark",
		Notifications: NotificationPrefs{
			Sound:   true,
			Desktop: true,
			Email:   false,
		},
		Privacy: PrivacyPrefs{
			ShowLastSeen:     true,
			ShowOnlineStatus: true,
		},
		Chat: ChatPrefs{
			EnterToSend:    true,
			ShowTimestamps: true,
			FontSize:       "medium",
		},
		UI: UIPrefs{
			SidebarWidth: 320,
			CompactMode:  false,
			ShowAvatars:  true,
		},
	}
}

// Get loads the stored preferences, falling back to defaults when the
// profile has never saved any.
func (db *DB) Get() (Preferences, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, prefsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}

	// Unmarshal over defaults so fields added after the row was written
	// keep their default values.
	p := Defaults()
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

// Save persists the full preferences document.
func (db *DB) Save(p Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		prefsKey, string(raw), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Export returns the preferences as indented JSON for backup.
func (db *DB) Export() ([]byte, error) {
	p, err := db.Get()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(p, "", "  ")
}

// Import replaces the stored preferences with a previously exported
// document. Unknown fields are ignored; missing fields take defaults.
func (db *DB) Import(data []byte) error {
	p := Defaults()
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse preferences import: %w", err)
	}
	return db.Save(p)
}
