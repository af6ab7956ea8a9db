package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"openshelf/internal/admintoken"
	"openshelf/internal/domain"
	"openshelf/internal/storage"
	"openshelf/internal/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *storage.MemoryObjectStore) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryObjectStore("http://cdn.test/bucket")
	a, err := New(Config{
		Store:            st,
		Sessions:         store.NewMemorySessionStore(),
		Objects:          objects,
		MaxUploadBytes:   1 << 20,
		AllowedMimeTypes: []string{"application/pdf", "application/epub+zip"},
		DefaultCoverURL:  "http://cdn.test/default-cover.jpg",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, st, objects
}

func uploadTestBook(t *testing.T, a *App, title, uploader string) domain.Book {
	t.Helper()
	book, err := a.UploadBook(context.Background(), UploadInput{
		Title:       title,
		FileName:    "orig.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 not really a pdf"),
		Uploader:    uploader,
	})
	if err != nil {
		t.Fatalf("UploadBook(%q): %v", title, err)
	}
	return book
}

func TestSignUpAndLogin(t *testing.T) {
	a, _, _ := newTestApp(t)

	user, token, err := a.SignUp("alice", "s3cret")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.ID == "" || token == "" {
		t.Fatalf("SignUp returned empty id or token: %+v %q", user, token)
	}
	if user.PasswordHash == "s3cret" {
		t.Error("password stored in plaintext")
	}

	if _, _, err := a.SignUp("alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate SignUp err = %v, want ErrUsernameTaken", err)
	}

	if _, _, err := a.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login with wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := a.Login("nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login unknown user err = %v, want ErrInvalidCredentials", err)
	}

	got, token2, err := a.Login("alice", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("Login user id = %q, want %q", got.ID, user.ID)
	}

	resolved, ok, err := a.UserFromToken(token2)
	if err != nil || !ok {
		t.Fatalf("UserFromToken: ok=%v err=%v", ok, err)
	}
	if resolved.Username != "alice" {
		t.Errorf("resolved username = %q", resolved.Username)
	}

	if err := a.Logout(token2); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok, _ := a.UserFromToken(token2); ok {
		t.Error("session still valid after Logout")
	}
	if _, ok, err := a.UserFromToken(""); ok || err != nil {
		t.Errorf("empty token: ok=%v err=%v", ok, err)
	}
}

func TestUploadBookValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   UploadInput
		want error
	}{
		{"missing title", UploadInput{ContentType: "application/pdf", Data: []byte("x")}, ErrMissingTitle},
		{"blank title", UploadInput{Title: "   ", ContentType: "application/pdf", Data: []byte("x")}, ErrMissingTitle},
		{"missing file", UploadInput{Title: "Maths"}, ErrMissingFile},
		{"bad mime", UploadInput{Title: "Maths", ContentType: "image/png", Data: []byte("x")}, ErrUnsupportedFileType},
		{"too large", UploadInput{Title: "Maths", ContentType: "application/pdf", Data: make([]byte, (1<<20)+1)}, ErrFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.UploadBook(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUploadBookStoresFileAndMetadata(t *testing.T) {
	a, st, objects := newTestApp(t)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	book, err := a.UploadBook(context.Background(), UploadInput{
		Title:       "O-Level Maths: Paper 2!",
		Level:       domain.LevelO,
		Tags:        []string{"maths", "zimsec"},
		FileName:    "paper2.pdf",
		ContentType: "application/pdf; charset=binary",
		Data:        []byte("%PDF-1.4 fake"),
		Uploader:    "alice",
	})
	if err != nil {
		t.Fatalf("UploadBook: %v", err)
	}
	if !strings.HasPrefix(book.FileName, "o_level_maths_paper_2_") || !strings.HasSuffix(book.FileName, ".pdf") {
		t.Errorf("FileName = %q", book.FileName)
	}
	if book.FileURL != "http://cdn.test/bucket/ebooks/"+book.FileName {
		t.Errorf("FileURL = %q", book.FileURL)
	}
	if book.FileSize != int64(len("%PDF-1.4 fake")) {
		t.Errorf("FileSize = %d", book.FileSize)
	}
	// garbage bytes are not parseable, so the cover falls back
	if book.CoverURL != "http://cdn.test/default-cover.jpg" {
		t.Errorf("CoverURL = %q", book.CoverURL)
	}
	if book.UploadedBy != "alice" {
		t.Errorf("UploadedBy = %q", book.UploadedBy)
	}
	if objects.Len() != 1 {
		t.Errorf("stored objects = %d, want 1", objects.Len())
	}

	stored, ok, err := st.GetBook(book.ID)
	if err != nil || !ok {
		t.Fatalf("GetBook: ok=%v err=%v", ok, err)
	}
	if stored.Title != "O-Level Maths: Paper 2!" || len(stored.Tags) != 2 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestUploadBookKeepsSuppliedCover(t *testing.T) {
	a, _, objects := newTestApp(t)

	book, err := a.UploadBook(context.Background(), UploadInput{
		Title:       "Biology Notes",
		CoverURL:    "http://cdn.test/my-cover.jpg",
		FileName:    "bio.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 fake"),
	})
	if err != nil {
		t.Fatalf("UploadBook: %v", err)
	}
	if book.CoverURL != "http://cdn.test/my-cover.jpg" {
		t.Errorf("CoverURL = %q, want supplied cover", book.CoverURL)
	}
	// no thumbnail is generated when a cover comes with the upload
	if objects.Len() != 1 {
		t.Errorf("stored objects = %d, want 1", objects.Len())
	}

	epub, err := a.UploadBook(context.Background(), UploadInput{
		Title:       "Physics Notes",
		CoverURL:    "http://cdn.test/physics.jpg",
		FileName:    "physics.epub",
		ContentType: "application/epub+zip",
		Data:        []byte("epub bytes"),
	})
	if err != nil {
		t.Fatalf("UploadBook epub: %v", err)
	}
	if epub.CoverURL != "http://cdn.test/physics.jpg" {
		t.Errorf("epub CoverURL = %q, want supplied cover", epub.CoverURL)
	}
}

func TestUploadBookAnonymousDefault(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadTestBook(t, a, "Chemistry Notes", "")
	if book.UploadedBy != domain.AnonymousUploader {
		t.Errorf("UploadedBy = %q, want %q", book.UploadedBy, domain.AnonymousUploader)
	}
	if book.Tags == nil {
		t.Error("Tags is nil, want empty slice")
	}
}

func TestRecordDownload(t *testing.T) {
	a, st, _ := newTestApp(t)
	book := uploadTestBook(t, a, "Physics", "bob")

	user := domain.User{ID: "u1", Username: "alice"}
	got, err := a.RecordDownload(book.ID, &user)
	if err != nil {
		t.Fatalf("RecordDownload: %v", err)
	}
	if got.Downloads != 1 {
		t.Errorf("returned Downloads = %d, want 1", got.Downloads)
	}

	after, _, _ := st.GetBook(book.ID)
	if after.Downloads != 1 {
		t.Errorf("stored Downloads = %d, want 1", after.Downloads)
	}
	if len(st.Downloads()) != 1 {
		t.Errorf("download log rows = %d, want 1", len(st.Downloads()))
	}
	mine, err := a.MyDownloads("u1")
	if err != nil {
		t.Fatalf("MyDownloads: %v", err)
	}
	if len(mine) != 1 || mine[0].BookTitle != "Physics" {
		t.Errorf("MyDownloads = %+v", mine)
	}

	// anonymous download bumps the counter but records no user row
	if _, err := a.RecordDownload(book.ID, nil); err != nil {
		t.Fatalf("anonymous RecordDownload: %v", err)
	}
	if mine, _ := a.MyDownloads("u1"); len(mine) != 1 {
		t.Errorf("user rows after anonymous download = %d", len(mine))
	}

	if _, err := a.RecordDownload("missing", nil); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("missing book err = %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	a, _, _ := newTestApp(t)
	book := uploadTestBook(t, a, "Physics", "bob")

	rc, info, err := a.OpenFile(context.Background(), book.FileName)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.4 not really a pdf" {
		t.Errorf("streamed data = %q", data)
	}
	if info.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", info.ContentType)
	}

	if _, _, err := a.OpenFile(context.Background(), "missing.pdf"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("missing file err = %v", err)
	}
	if _, _, err := a.OpenFile(context.Background(), "../"+book.FileName); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("traversal err = %v", err)
	}
}

func TestDeleteBookRemovesObjects(t *testing.T) {
	a, st, objects := newTestApp(t)
	book := uploadTestBook(t, a, "History", "bob")

	if err := a.DeleteBook(context.Background(), book.ID); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if _, ok, _ := st.GetBook(book.ID); ok {
		t.Error("book still present after delete")
	}
	if objects.Len() != 0 {
		t.Errorf("stored objects = %d, want 0", objects.Len())
	}
	if err := a.DeleteBook(context.Background(), book.ID); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestTrendingAndMostDownloaded(t *testing.T) {
	a, _, _ := newTestApp(t)
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	a.now = func() time.Time { return base.Add(-10 * 24 * time.Hour) }
	old := uploadTestBook(t, a, "Old Favourite", "bob")
	a.now = func() time.Time { return base.Add(-time.Hour) }
	fresh := uploadTestBook(t, a, "New Release", "bob")

	for i := 0; i < 5; i++ {
		if _, err := a.RecordDownload(old.ID, nil); err != nil {
			t.Fatalf("download: %v", err)
		}
	}
	if _, err := a.RecordDownload(fresh.ID, nil); err != nil {
		t.Fatalf("download: %v", err)
	}

	a.now = func() time.Time { return base }
	trending, err := a.TrendingBooks()
	if err != nil {
		t.Fatalf("TrendingBooks: %v", err)
	}
	if len(trending) != 1 || trending[0].ID != fresh.ID {
		t.Errorf("trending = %+v, want only the fresh upload", trending)
	}

	top, err := a.MostDownloadedBooks()
	if err != nil {
		t.Fatalf("MostDownloadedBooks: %v", err)
	}
	if len(top) != 2 || top[0].ID != old.ID {
		t.Errorf("most downloaded = %+v, want old book first", top)
	}
}

func TestMaintenanceToggle(t *testing.T) {
	a, _, _ := newTestApp(t)

	m, err := a.Maintenance()
	if err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
	if m.Locked {
		t.Error("maintenance locked by default")
	}

	m, err = a.SetMaintenance(true, "back soon")
	if err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	if !m.Locked || m.Message != "back soon" {
		t.Errorf("maintenance = %+v", m)
	}

	m, err = a.SetMaintenance(false, "")
	if err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	if m.Locked {
		t.Error("still locked after unlock")
	}
}

func TestSiteStats(t *testing.T) {
	a, _, _ := newTestApp(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	b1, err := a.UploadBook(context.Background(), UploadInput{
		Title: "Maths", BookType: "textbook", Level: domain.LevelO, Curriculum: "ZIMSEC",
		ContentType: "application/pdf", Data: []byte("x"), Uploader: "alice",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := a.UploadBook(context.Background(), UploadInput{
		Title: "Physics", BookType: "textbook", Level: domain.LevelA, Curriculum: "Cambridge",
		ContentType: "application/pdf", Data: []byte("y"), Uploader: "bob",
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := a.RecordDownload(b1.ID, nil); err != nil {
		t.Fatalf("download: %v", err)
	}
	a.TrackVisitor("10.0.0.1", "test-agent")
	a.TrackVisitor("10.0.0.2", "test-agent")

	stats, err := a.SiteStats(context.Background())
	if err != nil {
		t.Fatalf("SiteStats: %v", err)
	}
	if stats.TotalBooks != 2 {
		t.Errorf("TotalBooks = %d", stats.TotalBooks)
	}
	if stats.TotalDownloads != 1 || stats.TodayDownloads != 1 {
		t.Errorf("downloads: total=%d today=%d", stats.TotalDownloads, stats.TodayDownloads)
	}
	if stats.TotalVisitors != 2 || stats.TodayVisitors != 2 {
		t.Errorf("visitors: total=%d today=%d", stats.TotalVisitors, stats.TodayVisitors)
	}
	if stats.BookTypeDistribution["textbook"] != 2 {
		t.Errorf("BookTypeDistribution = %v", stats.BookTypeDistribution)
	}
	if stats.LevelDistribution[domain.LevelO] != 1 || stats.LevelDistribution[domain.LevelA] != 1 {
		t.Errorf("LevelDistribution = %v", stats.LevelDistribution)
	}
	if len(stats.DailyVisitors) != 7 {
		t.Fatalf("DailyVisitors buckets = %d", len(stats.DailyVisitors))
	}
	last := stats.DailyVisitors[6]
	if last.Date != "2026-03-10" || last.Visitors != 2 {
		t.Errorf("today's bucket = %+v", last)
	}
	if len(stats.RecentUploads) != 2 {
		t.Errorf("RecentUploads = %+v", stats.RecentUploads)
	}
}

func TestAdminSeedAndLogin(t *testing.T) {
	tokens, err := admintoken.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("admintoken.New: %v", err)
	}
	st := store.NewMemoryStore()
	a, err := New(Config{
		Store:         st,
		Sessions:      store.NewMemorySessionStore(),
		Objects:       storage.NewMemoryObjectStore(""),
		Tokens:        tokens,
		AdminUsername: "admin",
		AdminPassword: "hunter2",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, err := a.AdminLogin("admin", "hunter2")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	username, err := a.VerifyAdminToken(token)
	if err != nil {
		t.Fatalf("VerifyAdminToken: %v", err)
	}
	if username != "admin" {
		t.Errorf("username = %q", username)
	}

	if _, err := a.AdminLogin("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := a.AdminLogin("root", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown admin err = %v", err)
	}
	if _, err := a.VerifyAdminToken("not-a-jwt"); err == nil {
		t.Error("VerifyAdminToken accepted garbage")
	}

	// a second start keeps the existing admin row
	seeded, ok, _ := st.GetAdmin("admin")
	if !ok {
		t.Fatal("admin row missing")
	}
	if _, err := New(Config{
		Store:         st,
		Sessions:      store.NewMemorySessionStore(),
		Objects:       storage.NewMemoryObjectStore(""),
		Tokens:        tokens,
		AdminUsername: "admin",
		AdminPassword: "different",
	}); err != nil {
		t.Fatalf("second New: %v", err)
	}
	after, _, _ := st.GetAdmin("admin")
	if after.PasswordHash != seeded.PasswordHash {
		t.Error("reseed replaced the existing admin password")
	}
}

func TestUploadersGrouping(t *testing.T) {
	a, _, _ := newTestApp(t)
	uploadTestBook(t, a, "One", "alice")
	uploadTestBook(t, a, "Two", "alice")
	uploadTestBook(t, a, "Three", "bob")

	groups, err := a.Uploaders()
	if err != nil {
		t.Fatalf("Uploaders: %v", err)
	}
	byName := map[string]domain.UploaderBooks{}
	for _, g := range groups {
		byName[g.Username] = g
	}
	if byName["alice"].UploadCount != 2 || len(byName["alice"].Books) != 2 {
		t.Errorf("alice group = %+v", byName["alice"])
	}
	if byName["bob"].UploadCount != 1 {
		t.Errorf("bob group = %+v", byName["bob"])
	}
	if groups[0].Username != "alice" {
		t.Errorf("groups[0] = %+v, want alice first", groups[0])
	}
}

func TestUploadersIncludesRegisteredUsersWithoutUploads(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, _, err := a.SignUp("lurker", "pw"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	uploadTestBook(t, a, "One", "")

	groups, err := a.Uploaders()
	if err != nil {
		t.Fatalf("Uploaders: %v", err)
	}
	byName := map[string]domain.UploaderBooks{}
	for _, g := range groups {
		byName[g.Username] = g
	}
	if g, ok := byName["lurker"]; !ok || g.UploadCount != 0 || g.Books == nil {
		t.Errorf("lurker group = %+v (ok=%v)", g, ok)
	}
	if byName[domain.AnonymousUploader].UploadCount != 1 {
		t.Errorf("anonymous group = %+v", byName[domain.AnonymousUploader])
	}
}

func TestGetBookBackfillsLegacyCover(t *testing.T) {
	a, st, _ := newTestApp(t)
	err := st.CreateBook(domain.Book{
		ID:       "legacy",
		Title:    "Old Book",
		CoverURL: "https://files.catbox.moe/abc123.jpg",
	})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}

	book, err := a.GetBook("legacy")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if book.CoverURL != "http://cdn.test/default-cover.jpg" {
		t.Errorf("CoverURL = %q", book.CoverURL)
	}
	stored, _, _ := st.GetBook("legacy")
	if stored.CoverURL != "http://cdn.test/default-cover.jpg" {
		t.Errorf("stored CoverURL not backfilled: %q", stored.CoverURL)
	}
}
