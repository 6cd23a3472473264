package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/intent"
)

var fixedNow = time.UnixMilli(1700000000000)

func newTestStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db, now: func() time.Time { return fixedNow }}
}

func TestHistoryStoreAdd(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertHistorySQL(), mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := newTestStore(db)
	entry, err := store.Add(context.Background(), history.Entry{
		Intent:       intent.SwapIntent{Action: intent.ActionSwap, TokenIn: "USDC", TokenOut: "ETH", AmountIn: "100"},
		TxHash:       "0xabc",
		EstimatedUSD: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if entry.Status != history.StatusPending {
		t.Fatalf("expected pending status, got %s", entry.Status)
	}
	if !entry.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected timestamp %v", entry.Timestamp)
	}
}

func TestHistoryStoreList(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "tx_hash", "intent_json", "quote_json", "status", "delegated", "estimated_usd", "created_at"},
		values: [][]driver.Value{
			{"id-2", "0x02", `{"action":"swap","tokenIn":"USDC","tokenOut":"ETH","amountIn":"50","parsedBy":"heuristic"}`, nil, "pending", int64(1), "50", int64(20)},
			{"id-1", "0x01", `{"action":"swap","tokenIn":"ETH","tokenOut":"USDC","amountIn":"1","parsedBy":"heuristic"}`,
				`{"quoteId":"q-1","tokenIn":{"amount":"1","symbol":"ETH"},"tokenOut":{"amount":"3000","symbol":"USDC"},"priceImpact":"0.1","gasFeeUsd":"0.05"}`,
				"confirmed", int64(0), "3000", int64(10)},
		},
	}

	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, tx_hash, intent_json, quote_json, status, delegated, estimated_usd, created_at
    FROM swap_history ORDER BY created_at DESC, id DESC LIMIT ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	list, err := newTestStore(db).List(context.Background(), 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "id-2" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if !list[0].Delegated || list[0].Quote != nil || list[0].Intent.AmountIn != "50" {
		t.Fatalf("unexpected first entry: %+v", list[0])
	}
	if list[1].Quote == nil || list[1].Quote.QuoteID != "q-1" || list[1].Status != history.StatusConfirmed {
		t.Fatalf("unexpected second entry: %+v", list[1])
	}
	if !list[1].EstimatedUSD.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("unexpected estimated usd %s", list[1].EstimatedUSD)
	}
}

func TestHistoryStoreLatestEmpty(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT id, tx_hash, intent_json, quote_json, status, delegated, estimated_usd, created_at
    FROM swap_history ORDER BY created_at DESC, id DESC LIMIT ?`, mockRowsData{columns: []string{"id"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	_, ok, err := newTestStore(db).Latest(context.Background())
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if ok {
		t.Fatalf("expected no entry")
	}
}

func TestHistoryStoreUpdateStatus(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(selectForUpdateSQL(), mockRowsData{
			columns: []string{"id", "status"},
			values:  [][]driver.Value{{"id-1", "pending"}},
		}),
		execOp(`UPDATE swap_history SET status = ?, updated_at = ? WHERE id = ?`, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := newTestStore(db).UpdateStatus(context.Background(), "0x01", history.StatusConfirmed); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func TestHistoryStoreUpdateStatusRejectsFinal(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(selectForUpdateSQL(), mockRowsData{
			columns: []string{"id", "status"},
			values:  [][]driver.Value{{"id-1", "failed"}},
		}),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err := newTestStore(db).UpdateStatus(context.Background(), "0x01", history.StatusConfirmed)
	if xerrors.CodeOf(err) != history.CodeAlreadyFinal {
		t.Fatalf("expected already final, got %v", err)
	}
}

func TestHistoryStoreUpdateStatusNotFound(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(selectForUpdateSQL(), mockRowsData{columns: []string{"id", "status"}}),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	err := newTestStore(db).UpdateStatus(context.Background(), "0x09", history.StatusConfirmed)
	if xerrors.CodeOf(err) != history.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{rowsAffected: 0}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestSplitSQLStatementsDropsComments(t *testing.T) {
	got := splitSQLStatements("-- header\nCREATE TABLE a (id INT);\n\n-- second\nCREATE TABLE b (id INT);\n")
	if len(got) != 2 || got[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestHistoryStoreIntegration(t *testing.T) {
	dsn := os.Getenv("VOICESWAP_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("VOICESWAP_TEST_MYSQL_DSN not set")
	}

	ctx := context.Background()
	store, err := NewHistoryStore(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	hash := fmt.Sprintf("0xtest%d", time.Now().UnixNano())
	if _, err := store.Add(ctx, history.Entry{TxHash: hash, Intent: intent.SwapIntent{Action: intent.ActionSwap}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.UpdateStatus(ctx, hash, history.StatusConfirmed); err != nil {
		t.Fatalf("update: %v", err)
	}
	latest, ok, err := store.Latest(ctx)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.TxHash != hash || latest.Status != history.StatusConfirmed {
		t.Fatalf("unexpected latest entry: %+v", latest)
	}
}

func insertHistorySQL() string {
	return `INSERT INTO swap_history
    (id, tx_hash, action, token_in, token_out, amount_in, intent_json, quote_json, status, delegated, estimated_usd, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

func selectForUpdateSQL() string {
	return `SELECT id, status FROM swap_history WHERE tx_hash = ? ORDER BY created_at DESC LIMIT 1 FOR UPDATE`
}

func readMigrationStatement() string {
	content, err := embeddedMigrations.ReadFile("0001_swap_history.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		panic("no statements in migration")
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
