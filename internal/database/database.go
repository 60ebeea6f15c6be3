package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/termweave/termweave/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&User{}, &HistoryEntry{}, &Macro{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func UpdateUserPassword(id uint, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.Where("role = ?", "admin").Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// History helpers

func AppendHistory(username, command string) error {
	return DB.Create(&HistoryEntry{Username: username, Command: command}).Error
}

// SearchHistory returns the user's most recent commands, newest first,
// de-duplicated, optionally filtered by a case-insensitive substring.
func SearchHistory(username, query string, limit int) ([]string, error) {
	var entries []HistoryEntry
	q := DB.Where("username = ?", username).Order("created_at DESC").Limit(500)
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var result []string
	for _, e := range entries {
		if seen[e.Command] {
			continue
		}
		seen[e.Command] = true
		if query != "" && !containsFold(e.Command, query) {
			continue
		}
		result = append(result, e.Command)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Macro helpers

func ListMacros(username string) ([]Macro, error) {
	var macros []Macro
	if err := DB.Where("username = ?", username).Order("name").Find(&macros).Error; err != nil {
		return nil, err
	}
	return macros, nil
}

// SaveMacro upserts a macro by (username, name). Marking one macro as
// default clears the flag on the user's other macros.
func SaveMacro(username, name string, commands []string, isDefault bool) error {
	encoded, err := json.Marshal(commands)
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}

	return DB.Transaction(func(tx *gorm.DB) error {
		if isDefault {
			if err := tx.Model(&Macro{}).Where("username = ?", username).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		// Assign takes a map: a struct would drop the false IsDefault.
		return tx.Where("username = ? AND name = ?", username, name).
			Assign(map[string]interface{}{"commands": string(encoded), "is_default": isDefault}).
			FirstOrCreate(&Macro{Username: username, Name: name}).Error
	})
}

func DeleteMacro(username, name string) error {
	res := DB.Where("username = ? AND name = ?", username, name).Delete(&Macro{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MacroCommands decodes a macro's command list.
func (m *Macro) MacroCommands() ([]string, error) {
	var commands []string
	if err := json.Unmarshal([]byte(m.Commands), &commands); err != nil {
		return nil, fmt.Errorf("decode macro %q: %w", m.Name, err)
	}
	return commands, nil
}

// DefaultStartupCommands returns the command list of the user's default
// macro, or nil if the user has none.
func DefaultStartupCommands(username string) ([]string, error) {
	var m Macro
	err := DB.Where("username = ? AND is_default = ?", username, true).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.MacroCommands()
}

// Store adapts the package-level helpers to the interfaces consumed by the
// session registry and the WebSocket handler.
type Store struct{}

func (Store) Append(username, command string) error {
	return AppendHistory(username, command)
}

func (Store) DefaultStartupCommands(username string) ([]string, error) {
	return DefaultStartupCommands(username)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
