package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

type BookModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Author      string
	BookType    string
	Curriculum  string
	Level       string `gorm:"index"`
	Form        string
	Year        string
	ExamSession string
	Description string
	Tags        datatypes.JSON `gorm:"type:jsonb"`
	FileURL     string         `gorm:"not null"`
	FileName    string         `gorm:"not null"`
	FileSize    int64          `gorm:"not null"`
	CoverURL    string
	Downloads   int64     `gorm:"not null;default:0"`
	UploadedBy  string    `gorm:"index"`
	UploadedAt  time.Time `gorm:"not null;index"`
}

type VisitorModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	IP        string `gorm:"not null"`
	UserAgent string
	VisitedAt time.Time `gorm:"not null;index"`
}

type DownloadModel struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	BookID       string    `gorm:"not null;index"`
	DownloadedAt time.Time `gorm:"not null;index"`
}

type UserDownloadModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       string `gorm:"not null;index"`
	Username     string
	BookID       string `gorm:"not null"`
	BookTitle    string
	DownloadedAt time.Time `gorm:"not null;index"`
}

type AdminModel struct {
	Username     string `gorm:"primaryKey"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// MaintenanceModel is a singleton row keyed by a fixed ID.
type MaintenanceModel struct {
	ID        int `gorm:"primaryKey"`
	Locked    bool
	Message   string
	UpdatedAt time.Time
}
