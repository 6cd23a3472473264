package history

import (
	"context"
	"sync"
	"time"
)

// maxEntries 限制内存中保留的历史条数。
const maxEntries = 512

// MemoryStore 仅在进程内保存历史，适合测试与本地体验。
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryStore 创建空的内存历史。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Add 追加记录，最新的记录排在最前。
func (m *MemoryStore) Add(_ context.Context, entry Entry) (Entry, error) {
	prepared, err := Prepare(entry, m.now())
	if err != nil {
		return Entry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = prepend(m.entries, prepared)
	return prepared, nil
}

// UpdateStatus 更新最近一条匹配交易哈希的记录。
func (m *MemoryStore) UpdateStatus(_ context.Context, txHash string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := indexOf(m.entries, txHash)
	if idx < 0 {
		return NotFound(txHash)
	}
	if err := CheckTransition(txHash, m.entries[idx].Status, status); err != nil {
		return err
	}
	m.entries[idx].Status = status
	return nil
}

// Latest 返回最新一条记录。
func (m *MemoryStore) Latest(context.Context) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return Entry{}, false, nil
	}
	return m.entries[0], true, nil
}

// List 返回最近的记录副本。
func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return head(m.entries, limit), nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func prepend(entries []Entry, entry Entry) []Entry {
	entries = append([]Entry{entry}, entries...)
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	return entries
}

func indexOf(entries []Entry, txHash string) int {
	for i := range entries {
		if entries[i].TxHash == txHash {
			return i
		}
	}
	return -1
}

func head(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, limit)
	copy(out, entries[:limit])
	return out
}
