package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	xerrors "VoiceSwap/internal/errors"
)

// fileRecord 是日志中的一行。状态更新以 kind=status 的行追加，重放时覆盖。
type fileRecord struct {
	Kind   string `json:"kind"`
	Entry  *Entry `json:"entry,omitempty"`
	TxHash string `json:"txHash,omitempty"`
	Status Status `json:"status,omitempty"`
	At     int64  `json:"at"`
}

const (
	recordAdd    = "add"
	recordStatus = "status"
)

// FileStore 以追加写的 JSON 行日志持久化历史，重启后从磁盘恢复。
type FileStore struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
	now     func() time.Time
}

// NewFileStore 打开（必要时创建）日志文件并恢复已有记录。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = filepath.Join(".", "history.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建历史目录失败")
	}
	store := &FileStore{path: path, now: time.Now}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Add 追加记录并写入日志。
func (f *FileStore) Add(_ context.Context, entry Entry) (Entry, error) {
	prepared, err := Prepare(entry, f.now())
	if err != nil {
		return Entry{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.append(fileRecord{Kind: recordAdd, Entry: &prepared, At: prepared.Timestamp.Unix()}); err != nil {
		return Entry{}, err
	}
	f.entries = prepend(f.entries, prepared)
	return prepared, nil
}

// UpdateStatus 追加一条状态更新。
func (f *FileStore) UpdateStatus(_ context.Context, txHash string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := indexOf(f.entries, txHash)
	if idx < 0 {
		return NotFound(txHash)
	}
	if err := CheckTransition(txHash, f.entries[idx].Status, status); err != nil {
		return err
	}
	if err := f.append(fileRecord{Kind: recordStatus, TxHash: txHash, Status: status, At: f.now().Unix()}); err != nil {
		return err
	}
	f.entries[idx].Status = status
	return nil
}

// Latest 返回最新一条记录。
func (f *FileStore) Latest(context.Context) (Entry, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.entries) == 0 {
		return Entry{}, false, nil
	}
	return f.entries[0], true, nil
}

// List 返回最近的记录。
func (f *FileStore) List(_ context.Context, limit int) ([]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return head(f.entries, limit), nil
}

// Close 实现 Store 接口，文件在每次写入后即关闭。
func (f *FileStore) Close() error { return nil }

func (f *FileStore) append(record fileRecord) error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开历史日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入历史日志失败")
	}
	return nil
}

func (f *FileStore) loadFromDisk() error {
	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取历史日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []Entry
	for scanner.Scan() {
		var record fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		switch record.Kind {
		case recordAdd:
			if record.Entry != nil {
				restored = prepend(restored, *record.Entry)
			}
		case recordStatus:
			if idx := indexOf(restored, record.TxHash); idx >= 0 {
				restored[idx].Status = record.Status
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析历史日志失败")
	}
	f.entries = restored
	return nil
}
