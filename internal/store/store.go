package store

import (
	"time"

	"openshelf/internal/domain"
)

// Store defines persistence operations for users, books, logs, and flags.
// It is the only component that touches the database.
type Store interface {
	// users
	CreateUser(domain.User) error
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)

	// books
	CreateBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	ListBooksByLevel(level string) ([]domain.Book, error)
	ListBooksByUploader(username string) ([]domain.Book, error)
	ListTrendingBooks(since time.Time, limit int) ([]domain.Book, error)
	ListMostDownloadedBooks(limit int) ([]domain.Book, error)
	TopUploaders(limit int) ([]domain.UploaderStat, error)
	IncrementDownloads(id string) error
	UpdateCoverURL(id, coverURL string) error
	DeleteBook(id string) error
	BookCount() (int64, error)
	SumDownloads() (int64, error)

	// download logs (append-only)
	AppendDownload(domain.DownloadEntry) error
	CountDownloadsSince(since time.Time) (int64, error)
	AppendUserDownload(domain.UserDownload) error
	ListUserDownloads(userID string, limit int) ([]domain.UserDownload, error)

	// visitor log (append-only)
	AppendVisitor(domain.Visitor) error
	CountVisitors() (int64, error)
	CountVisitorsSince(since time.Time) (int64, error)
	CountVisitorsBetween(start, end time.Time) (int64, error)

	// admin account
	GetAdmin(username string) (domain.Admin, bool, error)
	SaveAdmin(domain.Admin) error

	// maintenance flag (singleton, upsert only)
	GetMaintenance() (domain.Maintenance, error)
	SetMaintenance(locked bool, message string) error
}

// SessionStore persists session identifiers carried by cookies.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
