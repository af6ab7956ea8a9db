package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"openshelf/internal/domain"
)

const migrateLockID int64 = 48619340

const maintenanceRowID = 1

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrently starting replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&BookModel{},
			&VisitorModel{},
			&DownloadModel{},
			&UserDownloadModel{},
			&AdminModel{},
			&MaintenanceModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user row.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// CreateBook inserts a book record.
func (s *GormStore) CreateBook(b domain.Book) error {
	model, err := bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books, newest upload first.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	return s.listBooks(func(tx *gorm.DB) *gorm.DB {
		return tx.Order("uploaded_at DESC")
	})
}

// ListBooksByLevel filters by level, newest upload first.
func (s *GormStore) ListBooksByLevel(level string) ([]domain.Book, error) {
	return s.listBooks(func(tx *gorm.DB) *gorm.DB {
		return tx.Where("level = ?", level).Order("uploaded_at DESC")
	})
}

// ListBooksByUploader filters by uploader username, newest upload first.
func (s *GormStore) ListBooksByUploader(username string) ([]domain.Book, error) {
	return s.listBooks(func(tx *gorm.DB) *gorm.DB {
		return tx.Where("uploaded_by = ?", username).Order("uploaded_at DESC")
	})
}

// ListTrendingBooks returns books uploaded at or after since, ranked by
// download count.
func (s *GormStore) ListTrendingBooks(since time.Time, limit int) ([]domain.Book, error) {
	return s.listBooks(func(tx *gorm.DB) *gorm.DB {
		return tx.Where("uploaded_at >= ?", since).Order("downloads DESC").Limit(limit)
	})
}

// ListMostDownloadedBooks ranks all books by download count.
func (s *GormStore) ListMostDownloadedBooks(limit int) ([]domain.Book, error) {
	return s.listBooks(func(tx *gorm.DB) *gorm.DB {
		return tx.Order("downloads DESC").Limit(limit)
	})
}

func (s *GormStore) listBooks(apply func(*gorm.DB) *gorm.DB) ([]domain.Book, error) {
	var models []BookModel
	if err := apply(s.db.Model(&BookModel{})).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// TopUploaders groups books by uploader and ranks by upload count.
func (s *GormStore) TopUploaders(limit int) ([]domain.UploaderStat, error) {
	var stats []domain.UploaderStat
	err := s.db.Model(&BookModel{}).
		Select("uploaded_by AS username, COUNT(*) AS upload_count").
		Group("uploaded_by").
		Order("upload_count DESC").
		Limit(limit).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// IncrementDownloads bumps the counter with a single atomic SQL update.
func (s *GormStore) IncrementDownloads(id string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", id).
		UpdateColumn("downloads", gorm.Expr("downloads + ?", 1)).Error
}

// UpdateCoverURL backfills the cover URL of an existing book.
func (s *GormStore) UpdateCoverURL(id, coverURL string) error {
	return s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Update("cover_url", coverURL).Error
}

// DeleteBook removes a book row. Download logs are kept for analytics.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Delete(&BookModel{}, "id = ?", id).Error
}

// BookCount returns the number of books.
func (s *GormStore) BookCount() (int64, error) {
	var count int64
	if err := s.db.Model(&BookModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SumDownloads totals the downloads counters across all books.
func (s *GormStore) SumDownloads() (int64, error) {
	var total sql.NullInt64
	if err := s.db.Model(&BookModel{}).
		Select("COALESCE(SUM(downloads), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// AppendDownload records one analytics log row.
func (s *GormStore) AppendDownload(d domain.DownloadEntry) error {
	model := DownloadModel{BookID: d.BookID, DownloadedAt: d.DownloadedAt}
	return s.db.Create(&model).Error
}

// CountDownloadsSince counts log rows at or after since.
func (s *GormStore) CountDownloadsSince(since time.Time) (int64, error) {
	var count int64
	if err := s.db.Model(&DownloadModel{}).
		Where("downloaded_at >= ?", since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AppendUserDownload records a logged-in user's download.
func (s *GormStore) AppendUserDownload(d domain.UserDownload) error {
	model := UserDownloadModel{
		UserID:       d.UserID,
		Username:     d.Username,
		BookID:       d.BookID,
		BookTitle:    d.BookTitle,
		DownloadedAt: d.DownloadedAt,
	}
	return s.db.Create(&model).Error
}

// ListUserDownloads returns a user's download history, newest first.
func (s *GormStore) ListUserDownloads(userID string, limit int) ([]domain.UserDownload, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []UserDownloadModel
	if err := s.db.Where("user_id = ?", userID).
		Order("downloaded_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UserDownload, 0, len(models))
	for _, m := range models {
		res = append(res, domain.UserDownload{
			UserID:       m.UserID,
			Username:     m.Username,
			BookID:       m.BookID,
			BookTitle:    m.BookTitle,
			DownloadedAt: m.DownloadedAt,
		})
	}
	return res, nil
}

// AppendVisitor records one traffic log row.
func (s *GormStore) AppendVisitor(v domain.Visitor) error {
	model := VisitorModel{IP: v.IP, UserAgent: v.UserAgent, VisitedAt: v.VisitedAt}
	return s.db.Create(&model).Error
}

// CountVisitors returns the total visitor count.
func (s *GormStore) CountVisitors() (int64, error) {
	var count int64
	if err := s.db.Model(&VisitorModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountVisitorsSince counts visitors at or after since.
func (s *GormStore) CountVisitorsSince(since time.Time) (int64, error) {
	var count int64
	if err := s.db.Model(&VisitorModel{}).
		Where("visited_at >= ?", since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountVisitorsBetween counts visitors in [start, end).
func (s *GormStore) CountVisitorsBetween(start, end time.Time) (int64, error) {
	var count int64
	if err := s.db.Model(&VisitorModel{}).
		Where("visited_at >= ? AND visited_at < ?", start, end).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetAdmin looks up the dashboard account.
func (s *GormStore) GetAdmin(username string) (domain.Admin, bool, error) {
	var model AdminModel
	if err := s.db.First(&model, "username = ?", username).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Admin{}, false, nil
		}
		return domain.Admin{}, false, err
	}
	return domain.Admin{
		Username:     model.Username,
		PasswordHash: model.PasswordHash,
		CreatedAt:    model.CreatedAt,
	}, true, nil
}

// SaveAdmin inserts or refreshes the dashboard account.
func (s *GormStore) SaveAdmin(a domain.Admin) error {
	model := AdminModel{
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash"}),
	}).Create(&model).Error
}

// GetMaintenance reads the singleton flag; absent means unlocked.
func (s *GormStore) GetMaintenance() (domain.Maintenance, error) {
	var model MaintenanceModel
	if err := s.db.First(&model, "id = ?", maintenanceRowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Maintenance{}, nil
		}
		return domain.Maintenance{}, err
	}
	return domain.Maintenance{
		Locked:    model.Locked,
		Message:   model.Message,
		UpdatedAt: model.UpdatedAt,
	}, nil
}

// SetMaintenance upserts the singleton flag.
func (s *GormStore) SetMaintenance(locked bool, message string) error {
	model := MaintenanceModel{
		ID:        maintenanceRowID,
		Locked:    locked,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"locked", "message", "updated_at"}),
	}).Create(&model).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func bookToModel(b domain.Book) (BookModel, error) {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return BookModel{}, fmt.Errorf("marshal tags: %w", err)
	}
	return BookModel{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		BookType:    b.BookType,
		Curriculum:  b.Curriculum,
		Level:       b.Level,
		Form:        b.Form,
		Year:        b.Year,
		ExamSession: b.ExamSession,
		Description: b.Description,
		Tags:        rawTags,
		FileURL:     b.FileURL,
		FileName:    b.FileName,
		FileSize:    b.FileSize,
		CoverURL:    b.CoverURL,
		Downloads:   b.Downloads,
		UploadedBy:  b.UploadedBy,
		UploadedAt:  b.UploadedAt,
	}, nil
}

func bookFromModel(m BookModel) domain.Book {
	tags := []string{}
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	return domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		BookType:    m.BookType,
		Curriculum:  m.Curriculum,
		Level:       m.Level,
		Form:        m.Form,
		Year:        m.Year,
		ExamSession: m.ExamSession,
		Description: m.Description,
		Tags:        tags,
		FileURL:     m.FileURL,
		FileName:    m.FileName,
		FileSize:    m.FileSize,
		CoverURL:    m.CoverURL,
		Downloads:   m.Downloads,
		UploadedBy:  m.UploadedBy,
		UploadedAt:  m.UploadedAt,
	}
}
