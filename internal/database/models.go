package database

import "time"

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	HomeDir      string    `json:"home_dir"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type HistoryEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"not null;index" json:"username"`
	Command   string    `gorm:"not null" json:"command"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Macro struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"not null;uniqueIndex:idx_user_macro" json:"username"`
	Name      string    `gorm:"not null;uniqueIndex:idx_user_macro" json:"name"`
	Commands  string    `gorm:"not null;type:text" json:"-"` // JSON array of command strings
	IsDefault bool      `gorm:"not null;default:false" json:"is_default"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
