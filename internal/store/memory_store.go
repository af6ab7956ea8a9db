package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"openshelf/internal/domain"
)

// MemoryStore keeps everything in-process. Tests use it in place of
// Postgres; sort tie-breaking follows insertion order like the real store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	byUsername    map[string]string // username -> user ID
	books         map[string]domain.Book
	order         []string // book insertion order
	downloads     []domain.DownloadEntry
	userDownloads []domain.UserDownload
	visitors      []domain.Visitor
	admins        map[string]domain.Admin
	maintenance   domain.Maintenance
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		byUsername: make(map[string]string),
		books:      make(map[string]domain.Book),
		admins:     make(map[string]domain.Admin),
	}
}

func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byUsername[u.Username]; taken {
		return fmt.Errorf("username %q already exists", u.Username)
	}
	m.users[u.ID] = u
	m.byUsername[u.Username] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	return m.selectBooks(nil, byNewestUpload, 0), nil
}

func (m *MemoryStore) ListBooksByLevel(level string) ([]domain.Book, error) {
	return m.selectBooks(func(b domain.Book) bool { return b.Level == level }, byNewestUpload, 0), nil
}

func (m *MemoryStore) ListBooksByUploader(username string) ([]domain.Book, error) {
	return m.selectBooks(func(b domain.Book) bool { return b.UploadedBy == username }, byNewestUpload, 0), nil
}

func (m *MemoryStore) ListTrendingBooks(since time.Time, limit int) ([]domain.Book, error) {
	return m.selectBooks(func(b domain.Book) bool { return !b.UploadedAt.Before(since) }, byDownloads, limit), nil
}

func (m *MemoryStore) ListMostDownloadedBooks(limit int) ([]domain.Book, error) {
	return m.selectBooks(nil, byDownloads, limit), nil
}

func byNewestUpload(a, b domain.Book) bool { return a.UploadedAt.After(b.UploadedAt) }
func byDownloads(a, b domain.Book) bool    { return a.Downloads > b.Downloads }

func (m *MemoryStore) selectBooks(keep func(domain.Book) bool, less func(a, b domain.Book) bool, limit int) []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.order))
	for _, id := range m.order {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if keep == nil || keep(b) {
			res = append(res, b)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return less(res[i], res[j]) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (m *MemoryStore) TopUploaders(limit int) ([]domain.UploaderStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, b := range m.books {
		counts[b.UploadedBy]++
	}
	stats := make([]domain.UploaderStat, 0, len(counts))
	for username, n := range counts {
		stats = append(stats, domain.UploaderStat{Username: username, UploadCount: n})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].UploadCount > stats[j].UploadCount })
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (m *MemoryStore) IncrementDownloads(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil
	}
	b.Downloads++
	m.books[id] = b
	return nil
}

func (m *MemoryStore) UpdateCoverURL(id, coverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil
	}
	b.CoverURL = coverURL
	m.books[id] = b
	return nil
}

func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

func (m *MemoryStore) BookCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.books)), nil
}

func (m *MemoryStore) SumDownloads() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, b := range m.books {
		total += b.Downloads
	}
	return total, nil
}

func (m *MemoryStore) AppendDownload(d domain.DownloadEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, d)
	return nil
}

func (m *MemoryStore) CountDownloadsSince(since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, d := range m.downloads {
		if !d.DownloadedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Downloads exposes the raw download log for test assertions.
func (m *MemoryStore) Downloads() []domain.DownloadEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.DownloadEntry(nil), m.downloads...)
}

func (m *MemoryStore) AppendUserDownload(d domain.UserDownload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userDownloads = append(m.userDownloads, d)
	return nil
}

func (m *MemoryStore) ListUserDownloads(userID string, limit int) ([]domain.UserDownload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	res := make([]domain.UserDownload, 0, limit)
	for i := len(m.userDownloads) - 1; i >= 0 && len(res) < limit; i-- {
		if m.userDownloads[i].UserID == userID {
			res = append(res, m.userDownloads[i])
		}
	}
	return res, nil
}

func (m *MemoryStore) AppendVisitor(v domain.Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitors = append(m.visitors, v)
	return nil
}

func (m *MemoryStore) CountVisitors() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.visitors)), nil
}

func (m *MemoryStore) CountVisitorsSince(since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, v := range m.visitors {
		if !v.VisitedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountVisitorsBetween(start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, v := range m.visitors {
		if !v.VisitedAt.Before(start) && v.VisitedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) GetAdmin(username string) (domain.Admin, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.admins[username]
	return a, ok, nil
}

func (m *MemoryStore) SaveAdmin(a domain.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[a.Username] = a
	return nil
}

func (m *MemoryStore) GetMaintenance() (domain.Maintenance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maintenance, nil
}

func (m *MemoryStore) SetMaintenance(locked bool, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance = domain.Maintenance{
		Locked:    locked,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// MemorySessionStore is a SessionStore for tests.
type MemorySessionStore struct {
	mu   sync.RWMutex
	sess map[string]string
}

// NewMemorySessionStore initializes an empty session map.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sess: make(map[string]string)}
}

func (m *MemorySessionStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := NewID()
	m.sess[token] = userID
	return token, nil
}

func (m *MemorySessionStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.sess[token]
	return uid, ok, nil
}

func (m *MemorySessionStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}
