package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"openshelf/internal/admintoken"
	"openshelf/internal/domain"
	"openshelf/internal/storage"
	"openshelf/internal/store"
	"openshelf/internal/thumbnail"
	"openshelf/pkg/auth"
)

const (
	trendingWindow   = 7 * 24 * time.Hour
	trendingLimit    = 8
	mostDownloaded   = 8
	topUploaderLimit = 10
	statsBookLimit   = 10
	userDownloadsMax = 50

	booksPrefix  = "ebooks/"
	coversPrefix = "covers/"

	// legacy CDN host whose cover links are dead; reads rewrite them
	legacyCoverHost = "catbox.moe"

	unknownBucket = "Unknown"
)

// extByMime maps accepted upload MIME types to their canonical extension.
var extByMime = map[string]string{
	"application/pdf":      ".pdf",
	"application/epub+zip": ".epub",
	"application/msword":   ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

var titleSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Config wires the application's collaborators.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Objects  storage.ObjectStore
	Tokens   *admintoken.Manager
	Logger   *slog.Logger

	MaxUploadBytes   int64
	AllowedMimeTypes []string
	DefaultCoverURL  string

	AdminUsername string
	AdminPassword string
}

// App implements every operation exposed over HTTP. Handlers translate
// requests into App calls and App errors back into statuses.
type App struct {
	store    store.Store
	sessions store.SessionStore
	objects  storage.ObjectStore
	tokens   *admintoken.Manager
	logger   *slog.Logger

	maxUploadBytes  int64
	allowedMime     map[string]bool
	defaultCoverURL string

	now func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil || cfg.Sessions == nil || cfg.Objects == nil {
		return nil, fmt.Errorf("app: store, sessions, and objects are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.AllowedMimeTypes))
	for _, mt := range cfg.AllowedMimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(mt))] = true
	}
	if len(allowed) == 0 {
		for mt := range extByMime {
			allowed[mt] = true
		}
	}
	a := &App{
		store:           cfg.Store,
		sessions:        cfg.Sessions,
		objects:         cfg.Objects,
		tokens:          cfg.Tokens,
		logger:          logger,
		maxUploadBytes:  cfg.MaxUploadBytes,
		allowedMime:     allowed,
		defaultCoverURL: cfg.DefaultCoverURL,
		now:             time.Now,
	}
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := a.ensureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ensureAdmin seeds the dashboard account on first start. An existing
// admin row wins over the configured password.
func (a *App) ensureAdmin(username, password string) error {
	_, ok, err := a.store.GetAdmin(username)
	if err != nil {
		return fmt.Errorf("look up admin: %w", err)
	}
	if ok {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	return a.store.SaveAdmin(domain.Admin{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	})
}

// ---- accounts & sessions ----

func (a *App) SignUp(username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	if _, ok, err := a.store.GetUserByUsername(username); err != nil {
		return domain.User{}, "", err
	} else if ok {
		return domain.User{}, "", ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.CreateUser(user); err != nil {
		return domain.User{}, "", err
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

func (a *App) Login(username, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a session token to its user. A stale token whose
// user row is gone counts as no session.
func (a *App) UserFromToken(token string) (domain.User, bool, error) {
	if token == "" {
		return domain.User{}, false, nil
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	return a.store.GetUserByID(userID)
}

func (a *App) Logout(token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.DeleteSession(token)
}

// ---- books ----

// UploadInput carries one multipart upload. Data holds the whole file;
// it is read twice (object store put, then thumbnail) so it stays in memory.
type UploadInput struct {
	Title       string
	Author      string
	BookType    string
	Curriculum  string
	Level       string
	Form        string
	Year        string
	ExamSession string
	Description string
	Tags        []string
	CoverURL    string

	FileName    string
	ContentType string
	Data        []byte

	Uploader string
}

func (a *App) UploadBook(ctx context.Context, in UploadInput) (domain.Book, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Book{}, ErrMissingTitle
	}
	if len(in.Data) == 0 {
		return domain.Book{}, ErrMissingFile
	}
	if a.maxUploadBytes > 0 && int64(len(in.Data)) > a.maxUploadBytes {
		return domain.Book{}, ErrFileTooLarge
	}
	contentType := normalizeContentType(in.ContentType)
	if !a.allowedMime[contentType] {
		return domain.Book{}, ErrUnsupportedFileType
	}

	now := a.now().UTC()
	fileName := buildFileName(title, in.FileName, contentType, now)
	fileURL, err := a.objects.Put(ctx, booksPrefix+fileName, bytes.NewReader(in.Data), int64(len(in.Data)), contentType)
	if err != nil {
		return domain.Book{}, fmt.Errorf("store file: %w", err)
	}

	uploader := strings.TrimSpace(in.Uploader)
	if uploader == "" {
		uploader = domain.AnonymousUploader
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	coverURL := strings.TrimSpace(in.CoverURL)
	if coverURL == "" {
		coverURL = a.buildCover(ctx, fileName, contentType, in.Data)
	}
	book := domain.Book{
		ID:          uuid.NewString(),
		Title:       title,
		Author:      strings.TrimSpace(in.Author),
		BookType:    strings.TrimSpace(in.BookType),
		Curriculum:  strings.TrimSpace(in.Curriculum),
		Level:       strings.TrimSpace(in.Level),
		Form:        strings.TrimSpace(in.Form),
		Year:        strings.TrimSpace(in.Year),
		ExamSession: strings.TrimSpace(in.ExamSession),
		Description: strings.TrimSpace(in.Description),
		Tags:        tags,
		FileURL:     fileURL,
		FileName:    fileName,
		FileSize:    int64(len(in.Data)),
		CoverURL:    coverURL,
		UploadedBy:  uploader,
		UploadedAt:  now,
	}
	if err := a.store.CreateBook(book); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

// buildCover renders a placeholder cover for PDFs. Any failure falls back
// to the default cover; uploads never fail because of the thumbnail.
func (a *App) buildCover(ctx context.Context, fileName, contentType string, data []byte) string {
	if contentType != "application/pdf" {
		return a.defaultCoverURL
	}
	pages, err := thumbnail.PageCount(data)
	if err != nil {
		a.logger.Warn("thumbnail page count failed", "file", fileName, "error", err)
		return a.defaultCoverURL
	}
	img, err := thumbnail.GeneratePlaceholder(pages)
	if err != nil {
		a.logger.Warn("thumbnail render failed", "file", fileName, "error", err)
		return a.defaultCoverURL
	}
	coverURL, err := a.objects.Put(ctx, coverKey(fileName), bytes.NewReader(img), int64(len(img)), "image/jpeg")
	if err != nil {
		a.logger.Warn("thumbnail upload failed", "file", fileName, "error", err)
		return a.defaultCoverURL
	}
	return coverURL
}

func coverKey(fileName string) string {
	base := strings.TrimSuffix(fileName, path.Ext(fileName))
	return coversPrefix + base + "_thumb.jpg"
}

func buildFileName(title, originalName, contentType string, now time.Time) string {
	ext := strings.ToLower(path.Ext(originalName))
	if ext == "" {
		ext = extByMime[contentType]
	}
	sanitized := strings.ToLower(strings.Trim(titleSanitizer.ReplaceAllString(title, "_"), "_"))
	if sanitized == "" {
		sanitized = "book"
	}
	return fmt.Sprintf("%s_%d%s", sanitized, now.UnixMilli(), ext)
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// sanitizeCover rewrites dead legacy CDN cover links to the default cover
// on the way out. List reads only rewrite the response; GetBook also
// persists the rewrite.
func (a *App) sanitizeCover(b domain.Book) domain.Book {
	if b.CoverURL == "" || strings.Contains(b.CoverURL, legacyCoverHost) {
		b.CoverURL = a.defaultCoverURL
	}
	return b
}

func (a *App) sanitizeCovers(books []domain.Book) []domain.Book {
	for i := range books {
		books[i] = a.sanitizeCover(books[i])
	}
	return books
}

func (a *App) ListBooks() ([]domain.Book, error) {
	books, err := a.store.ListBooks()
	return a.sanitizeCovers(books), err
}

func (a *App) GetBook(id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	sanitized := a.sanitizeCover(book)
	// persist the backfill so legacy rows converge over time
	if sanitized.CoverURL != book.CoverURL {
		if err := a.store.UpdateCoverURL(book.ID, sanitized.CoverURL); err != nil {
			a.logger.Warn("cover backfill failed", "book_id", book.ID, "error", err)
		}
	}
	return sanitized, nil
}

func (a *App) BooksByLevel(level string) ([]domain.Book, error) {
	books, err := a.store.ListBooksByLevel(level)
	return a.sanitizeCovers(books), err
}

func (a *App) TrendingBooks() ([]domain.Book, error) {
	books, err := a.store.ListTrendingBooks(a.now().UTC().Add(-trendingWindow), trendingLimit)
	return a.sanitizeCovers(books), err
}

func (a *App) MostDownloadedBooks() ([]domain.Book, error) {
	books, err := a.store.ListMostDownloadedBooks(mostDownloaded)
	return a.sanitizeCovers(books), err
}

func (a *App) TopUploaders() ([]domain.UploaderStat, error) {
	return a.store.TopUploaders(topUploaderLimit)
}

func (a *App) BooksByUploader(username string) ([]domain.Book, error) {
	books, err := a.store.ListBooksByUploader(username)
	return a.sanitizeCovers(books), err
}

// DeleteBook removes the metadata row, then the stored objects. Object
// deletion is best effort; a dangling object is cheaper than a dangling row.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	if err := a.store.DeleteBook(id); err != nil {
		return err
	}
	if err := a.objects.Delete(ctx, booksPrefix+book.FileName); err != nil {
		a.logger.Warn("delete stored file failed", "book_id", id, "error", err)
	}
	if err := a.objects.Delete(ctx, coverKey(book.FileName)); err != nil {
		a.logger.Warn("delete stored cover failed", "book_id", id, "error", err)
	}
	return nil
}

// ---- downloads ----

// RecordDownload bumps the book's downloads counter and appends the
// analytics log rows. The counter bump and the log appends are separate
// writes; a crash between them loses a log row, not the count.
func (a *App) RecordDownload(bookID string, user *domain.User) (domain.Book, error) {
	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if err := a.store.IncrementDownloads(book.ID); err != nil {
		return domain.Book{}, fmt.Errorf("increment downloads: %w", err)
	}
	now := a.now().UTC()
	if err := a.store.AppendDownload(domain.DownloadEntry{BookID: book.ID, DownloadedAt: now}); err != nil {
		a.logger.Warn("append download log failed", "book_id", book.ID, "error", err)
	}
	if user != nil {
		err := a.store.AppendUserDownload(domain.UserDownload{
			UserID:       user.ID,
			Username:     user.Username,
			BookID:       book.ID,
			BookTitle:    book.Title,
			DownloadedAt: now,
		})
		if err != nil {
			a.logger.Warn("append user download failed", "user_id", user.ID, "error", err)
		}
	}
	book.Downloads++
	return a.sanitizeCover(book), nil
}

// OpenFile opens a stored book file by its storage filename for proxy
// streaming. The caller must close the returned reader. Opening a file
// does not count as a download; RecordDownload does.
func (a *App) OpenFile(ctx context.Context, fileID string) (io.ReadCloser, storage.ObjectInfo, error) {
	if fileID == "" || strings.Contains(fileID, "/") || strings.Contains(fileID, "..") {
		return nil, storage.ObjectInfo{}, ErrFileNotFound
	}
	rc, info, err := a.objects.Get(ctx, booksPrefix+fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ObjectInfo{}, ErrFileNotFound
		}
		return nil, storage.ObjectInfo{}, fmt.Errorf("open stored file: %w", err)
	}
	return rc, info, nil
}

func (a *App) MyDownloads(userID string) ([]domain.UserDownload, error) {
	return a.store.ListUserDownloads(userID, userDownloadsMax)
}

// ---- visitors & maintenance ----

func (a *App) TrackVisitor(ip, userAgent string) {
	err := a.store.AppendVisitor(domain.Visitor{
		IP:        ip,
		UserAgent: userAgent,
		VisitedAt: a.now().UTC(),
	})
	if err != nil {
		a.logger.Warn("append visitor failed", "error", err)
	}
}

func (a *App) Maintenance() (domain.Maintenance, error) {
	return a.store.GetMaintenance()
}

func (a *App) SetMaintenance(locked bool, message string) (domain.Maintenance, error) {
	if err := a.store.SetMaintenance(locked, message); err != nil {
		return domain.Maintenance{}, err
	}
	return a.store.GetMaintenance()
}

// ---- admin ----

func (a *App) AdminLogin(username, password string) (string, error) {
	admin, ok, err := a.store.GetAdmin(strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	if !ok || !auth.CheckPassword(password, admin.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	if a.tokens == nil {
		return "", fmt.Errorf("admin tokens not configured")
	}
	return a.tokens.Issue(admin.Username)
}

func (a *App) VerifyAdminToken(token string) (string, error) {
	if a.tokens == nil {
		return "", fmt.Errorf("admin tokens not configured")
	}
	return a.tokens.Verify(token)
}

func (a *App) AdminTokenTTL() time.Duration {
	if a.tokens == nil {
		return admintoken.DefaultTTL
	}
	return a.tokens.TTL()
}

// Uploaders groups every book under its uploader for the admin view.
// Registered users appear even with zero uploads; non-account uploaders
// (Anonymous) appear only when they have books.
func (a *App) Uploaders() ([]domain.UploaderBooks, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, err
	}
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, err
	}
	byUploader := make(map[string][]domain.Book)
	order := make([]string, 0, len(users))
	for _, u := range users {
		byUploader[u.Username] = nil
		order = append(order, u.Username)
	}
	for _, b := range books {
		if _, seen := byUploader[b.UploadedBy]; !seen {
			order = append(order, b.UploadedBy)
		}
		byUploader[b.UploadedBy] = append(byUploader[b.UploadedBy], b)
	}
	out := make([]domain.UploaderBooks, 0, len(order))
	for _, name := range order {
		group := byUploader[name]
		if group == nil {
			group = []domain.Book{}
		}
		out = append(out, domain.UploaderBooks{
			Username:    name,
			UploadCount: len(group),
			Books:       group,
		})
	}
	// most prolific first, ties by registration/first-upload order
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadCount > out[j].UploadCount })
	return out, nil
}

// SiteStats assembles the dashboard payload. Independent aggregates run
// concurrently; the first failure cancels the rest.
func (a *App) SiteStats(ctx context.Context) (domain.SiteStats, error) {
	now := a.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var stats domain.SiteStats
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.store.BookCount()
		stats.TotalBooks = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.SumDownloads()
		stats.TotalDownloads = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountVisitors()
		stats.TotalVisitors = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountVisitorsSince(dayStart)
		stats.TodayVisitors = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountVisitorsSince(now.Add(-7 * 24 * time.Hour))
		stats.WeekVisitors = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountVisitorsSince(now.Add(-30 * 24 * time.Hour))
		stats.MonthVisitors = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountDownloadsSince(dayStart)
		stats.TodayDownloads = n
		return err
	})
	g.Go(func() error {
		books, err := a.store.ListMostDownloadedBooks(statsBookLimit)
		stats.MostDownloadedBooks = a.sanitizeCovers(books)
		return err
	})
	var books []domain.Book
	g.Go(func() error {
		var err error
		books, err = a.store.ListBooks()
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SiteStats{}, err
	}

	// ListBooks is newest-first, so the head is the recent-uploads strip.
	stats.RecentUploads = a.sanitizeCovers(books)
	if len(stats.RecentUploads) > statsBookLimit {
		stats.RecentUploads = stats.RecentUploads[:statsBookLimit]
	}
	stats.BookTypeDistribution = map[string]int64{}
	stats.LevelDistribution = map[string]int64{}
	stats.CurriculumDistribution = map[string]int64{}
	for _, b := range books {
		stats.BookTypeDistribution[orUnknown(b.BookType)]++
		stats.LevelDistribution[orUnknown(b.Level)]++
		stats.CurriculumDistribution[orUnknown(b.Curriculum)]++
	}

	stats.DailyVisitors = make([]domain.DailyVisitors, 0, 7)
	for i := 6; i >= 0; i-- {
		start := dayStart.AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1)
		n, err := a.store.CountVisitorsBetween(start, end)
		if err != nil {
			return domain.SiteStats{}, err
		}
		stats.DailyVisitors = append(stats.DailyVisitors, domain.DailyVisitors{
			Date:     start.Format("2006-01-02"),
			Visitors: n,
		})
	}
	return stats, nil
}

func orUnknown(v string) string {
	if v == "" {
		return unknownBucket
	}
	return v
}
