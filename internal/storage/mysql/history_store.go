package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/swap"
)

const historyColumns = `id, tx_hash, intent_json, quote_json, status, delegated, estimated_usd, created_at`

// HistoryStore 把兑换历史写入 MySQL 的 swap_history 表。
type HistoryStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ history.Store = (*HistoryStore)(nil)

// NewHistoryStore 建立连接池并执行内嵌迁移。
func NewHistoryStore(ctx context.Context, cfg Config) (*HistoryStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行 MySQL 迁移失败")
	}
	return &HistoryStore{db: db, now: time.Now}, nil
}

// Add 插入一条历史记录。
func (s *HistoryStore) Add(ctx context.Context, entry history.Entry) (history.Entry, error) {
	prepared, err := history.Prepare(entry, s.now())
	if err != nil {
		return history.Entry{}, err
	}

	intentJSON, err := json.Marshal(prepared.Intent)
	if err != nil {
		return history.Entry{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码意图失败")
	}
	var quoteJSON sql.NullString
	if prepared.Quote != nil {
		encoded, err := json.Marshal(prepared.Quote)
		if err != nil {
			return history.Entry{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码报价失败")
		}
		quoteJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	const stmt = `INSERT INTO swap_history
        (id, tx_hash, action, token_in, token_out, amount_in, intent_json, quote_json, status, delegated, estimated_usd, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := prepared.Timestamp.UnixMilli()
	if _, err := s.db.ExecContext(ctx, stmt,
		prepared.ID,
		prepared.TxHash,
		string(prepared.Intent.Action),
		prepared.Intent.TokenIn,
		prepared.Intent.TokenOut,
		prepared.Intent.AmountIn,
		string(intentJSON),
		quoteJSON,
		string(prepared.Status),
		boolToInt(prepared.Delegated),
		prepared.EstimatedUSD.String(),
		createdAt,
		createdAt,
	); err != nil {
		var mysqlErr *mysqldriver.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return history.Entry{}, xerrors.Wrap(xerrors.CodeConflict, err, "历史记录 ID 重复")
		}
		return history.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入历史记录失败")
	}
	return prepared, nil
}

// UpdateStatus 在事务中读取当前状态并更新，终态记录不会被覆盖。
func (s *HistoryStore) UpdateStatus(ctx context.Context, txHash string, status history.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	var id, current string
	row := tx.QueryRowContext(ctx, `SELECT id, status FROM swap_history WHERE tx_hash = ?
        ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, txHash)
	if err := row.Scan(&id, &current); err != nil {
		tx.Rollback()
		if stdErrors.Is(err, sql.ErrNoRows) {
			return history.NotFound(txHash)
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史记录失败")
	}
	if err := history.CheckTransition(txHash, history.Status(current), status); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE swap_history SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UnixMilli(), id); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新历史状态失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Latest 返回最新一条记录。
func (s *HistoryStore) Latest(ctx context.Context) (history.Entry, bool, error) {
	entries, err := s.List(ctx, 1)
	if err != nil {
		return history.Entry{}, false, err
	}
	if len(entries) == 0 {
		return history.Entry{}, false, nil
	}
	return entries[0], true, nil
}

// List 按创建时间倒序查询。
func (s *HistoryStore) List(ctx context.Context, limit int) ([]history.Entry, error) {
	query := `SELECT ` + historyColumns + `
        FROM swap_history ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询历史记录失败")
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历历史记录失败")
	}
	return entries, nil
}

// Close 关闭底层连接池。
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanEntry(rows *sql.Rows) (history.Entry, error) {
	var (
		entry      history.Entry
		intentJSON string
		quoteJSON  sql.NullString
		status     string
		delegated  int
		estimated  string
		createdAt  int64
	)
	if err := rows.Scan(&entry.ID, &entry.TxHash, &intentJSON, &quoteJSON, &status, &delegated, &estimated, &createdAt); err != nil {
		return history.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析历史记录失败")
	}

	var parsed intent.SwapIntent
	if err := json.Unmarshal([]byte(intentJSON), &parsed); err != nil {
		return history.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析记录 %s 的意图失败", entry.ID))
	}
	entry.Intent = parsed

	if quoteJSON.Valid && quoteJSON.String != "" {
		var quote swap.Quote
		if err := json.Unmarshal([]byte(quoteJSON.String), &quote); err != nil {
			return history.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析记录 %s 的报价失败", entry.ID))
		}
		entry.Quote = &quote
	}

	usd, err := decimal.NewFromString(estimated)
	if err != nil {
		usd = decimal.Zero
	}
	entry.EstimatedUSD = usd
	entry.Status = history.Status(status)
	entry.Delegated = delegated == 1
	entry.Timestamp = time.UnixMilli(createdAt).UTC()
	return entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
