package store

import (
	"testing"
	"time"

	"openshelf/internal/domain"
)

func seedBook(t *testing.T, m *MemoryStore, id, uploader string, uploadedAt time.Time, downloads int64) {
	t.Helper()
	err := m.CreateBook(domain.Book{
		ID:         id,
		Title:      "Book " + id,
		Downloads:  downloads,
		UploadedBy: uploader,
		UploadedAt: uploadedAt,
	})
	if err != nil {
		t.Fatalf("CreateBook(%s): %v", id, err)
	}
}

func TestMemoryStoreTrendingWindow(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedBook(t, m, "old", "a", now.AddDate(0, 0, -10), 100)
	seedBook(t, m, "fresh-low", "a", now.AddDate(0, 0, -1), 1)
	seedBook(t, m, "fresh-high", "a", now.AddDate(0, 0, -2), 9)

	books, err := m.ListTrendingBooks(now.AddDate(0, 0, -7), 8)
	if err != nil {
		t.Fatalf("ListTrendingBooks: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("len = %d, want 2", len(books))
	}
	if books[0].ID != "fresh-high" || books[1].ID != "fresh-low" {
		t.Errorf("order = %s, %s", books[0].ID, books[1].ID)
	}

	books, _ = m.ListTrendingBooks(now.AddDate(0, 0, -7), 1)
	if len(books) != 1 || books[0].ID != "fresh-high" {
		t.Errorf("limited = %+v", books)
	}
}

func TestMemoryStoreTopUploaders(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	seedBook(t, m, "1", "alice", now, 0)
	seedBook(t, m, "2", "alice", now, 0)
	seedBook(t, m, "3", "bob", now, 0)

	stats, err := m.TopUploaders(10)
	if err != nil {
		t.Fatalf("TopUploaders: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len = %d", len(stats))
	}
	if stats[0].Username != "alice" || stats[0].UploadCount != 2 {
		t.Errorf("stats[0] = %+v", stats[0])
	}

	stats, _ = m.TopUploaders(1)
	if len(stats) != 1 {
		t.Errorf("limited len = %d", len(stats))
	}
}

func TestMemoryStoreIncrementAndSum(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	seedBook(t, m, "1", "a", now, 0)
	seedBook(t, m, "2", "a", now, 3)

	if err := m.IncrementDownloads("1"); err != nil {
		t.Fatalf("IncrementDownloads: %v", err)
	}
	if err := m.IncrementDownloads("missing"); err != nil {
		t.Errorf("IncrementDownloads on missing id: %v", err)
	}
	total, err := m.SumDownloads()
	if err != nil {
		t.Fatalf("SumDownloads: %v", err)
	}
	if total != 4 {
		t.Errorf("SumDownloads = %d, want 4", total)
	}
}

func TestMemoryStoreVisitorCounts(t *testing.T) {
	m := NewMemoryStore()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, -time.Hour, -48 * time.Hour} {
		if err := m.AppendVisitor(domain.Visitor{IP: "1.2.3.4", VisitedAt: base.Add(offset)}); err != nil {
			t.Fatalf("AppendVisitor: %v", err)
		}
	}

	if n, _ := m.CountVisitors(); n != 3 {
		t.Errorf("CountVisitors = %d", n)
	}
	if n, _ := m.CountVisitorsSince(base.Add(-2 * time.Hour)); n != 2 {
		t.Errorf("CountVisitorsSince = %d", n)
	}
	n, _ := m.CountVisitorsBetween(base.Add(-72*time.Hour), base.Add(-24*time.Hour))
	if n != 1 {
		t.Errorf("CountVisitorsBetween = %d", n)
	}
}

func TestMemoryStoreMaintenanceDefaults(t *testing.T) {
	m := NewMemoryStore()
	flag, err := m.GetMaintenance()
	if err != nil {
		t.Fatalf("GetMaintenance: %v", err)
	}
	if flag.Locked {
		t.Error("locked by default")
	}
	if err := m.SetMaintenance(true, "closed"); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	flag, _ = m.GetMaintenance()
	if !flag.Locked || flag.Message != "closed" {
		t.Errorf("flag = %+v", flag)
	}
}
