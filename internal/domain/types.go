package domain

import "time"

// Book levels accepted by the level filter.
const (
	LevelO = "O-Level"
	LevelA = "A-Level"
)

// AnonymousUploader credits uploads made without a session.
const AnonymousUploader = "Anonymous"

// Book is the metadata record describing one uploaded file.
// FileURL, FileName, and FileSize are set once at upload time and never
// change; CoverURL may be backfilled later; Downloads only grows.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	BookType    string    `json:"bookType,omitempty"`
	Curriculum  string    `json:"curriculum,omitempty"`
	Level       string    `json:"level,omitempty"`
	Form        string    `json:"form,omitempty"`
	Year        string    `json:"year,omitempty"`
	ExamSession string    `json:"examSession,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags"`
	FileURL     string    `json:"fileUrl"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	CoverURL    string    `json:"coverUrl,omitempty"`
	Downloads   int64     `json:"downloads"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Admin is the single seeded dashboard account.
type Admin struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Visitor is one append-only traffic log entry.
type Visitor struct {
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	VisitedAt time.Time `json:"visitedAt"`
}

// DownloadEntry is the per-download analytics log row. It is written
// alongside the book's downloads counter but not in the same transaction.
type DownloadEntry struct {
	BookID       string    `json:"bookId"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// UserDownload records a download made by a logged-in user.
type UserDownload struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	BookID       string    `json:"bookId"`
	BookTitle    string    `json:"bookTitle"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

type UploaderStat struct {
	Username    string `json:"username"`
	UploadCount int    `json:"uploadCount"`
}

// UploaderBooks pairs a user with everything they uploaded (admin view).
type UploaderBooks struct {
	Username    string `json:"username"`
	UploadCount int    `json:"uploadCount"`
	Books       []Book `json:"books"`
}

// Maintenance is the singleton site lockout flag.
type Maintenance struct {
	Locked    bool      `json:"locked"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DailyVisitors is one bucket of the 7-day visitor series.
type DailyVisitors struct {
	Date     string `json:"date"`
	Visitors int64  `json:"visitors"`
}

// SiteStats is the admin dashboard payload, computed on demand.
type SiteStats struct {
	TotalBooks             int64            `json:"totalBooks"`
	TotalDownloads         int64            `json:"totalDownloads"`
	TotalVisitors          int64            `json:"totalVisitors"`
	TodayVisitors          int64            `json:"todayVisitors"`
	WeekVisitors           int64            `json:"weekVisitors"`
	MonthVisitors          int64            `json:"monthVisitors"`
	TodayDownloads         int64            `json:"todayDownloads"`
	MostDownloadedBooks    []Book           `json:"mostDownloadedBooks"`
	RecentUploads          []Book           `json:"recentUploads"`
	BookTypeDistribution   map[string]int64 `json:"bookTypeDistribution"`
	LevelDistribution      map[string]int64 `json:"levelDistribution"`
	CurriculumDistribution map[string]int64 `json:"curriculumDistribution"`
	DailyVisitors          []DailyVisitors  `json:"dailyVisitors"`
}
