package gastank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Store 是预付余额的账本。Debit 不会把余额扣成负数。
type Store interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	Close() error
}

// MemoryStore 在进程内维护余额。
type MemoryStore struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

// NewMemoryStore 使用初始余额创建账本。
func NewMemoryStore(initial decimal.Decimal) *MemoryStore {
	if initial.IsNegative() {
		initial = decimal.Zero
	}
	return &MemoryStore{balance: initial}
}

// Balance 返回当前余额。
func (s *MemoryStore) Balance(context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// Debit 扣减余额，不足时扣到零为止。
func (s *MemoryStore) Debit(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = s.balance.Sub(amount)
	if s.balance.IsNegative() {
		s.balance = decimal.Zero
	}
	return s.balance, nil
}

// Credit 增加余额。
func (s *MemoryStore) Credit(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = s.balance.Add(amount)
	return s.balance, nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }

// microUnits 是 Redis 中整数存储的精度：1 美元 = 1e6。
const microUnits = 6

var debitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local remaining = current - tonumber(ARGV[1])
if remaining < 0 then remaining = 0 end
redis.call('SET', KEYS[1], remaining)
return remaining
`)

// RedisStoreConfig 描述 Redis 账本的连接参数。
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	Initial  decimal.Decimal
}

// RedisStore 把余额以微美元整数保存在一个 Redis key 中，多实例共享。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 创建 Redis 账本。key 不存在时写入初始余额。
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "voiceswap:gastank"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	if err := client.SetNX(ctx, key, toMicro(cfg.Initial), 0).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("初始化余额失败: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Balance 读取余额。
func (s *RedisStore) Balance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := s.client.Get(ctx, s.key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("读取余额失败: %w", err)
	}
	return fromMicro(raw), nil
}

// Debit 通过 Lua 脚本原子扣减，结果不低于零。
func (s *RedisStore) Debit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	raw, err := debitScript.Run(ctx, s.client, []string{s.key}, toMicro(amount)).Int64()
	if err != nil {
		return decimal.Zero, fmt.Errorf("扣减余额失败: %w", err)
	}
	return fromMicro(raw), nil
}

// Credit 原子增加余额。
func (s *RedisStore) Credit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	raw, err := s.client.IncrBy(ctx, s.key, toMicro(amount)).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("增加余额失败: %w", err)
	}
	return fromMicro(raw), nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func toMicro(d decimal.Decimal) int64 {
	return d.Shift(microUnits).Round(0).IntPart()
}

func fromMicro(v int64) decimal.Decimal {
	return decimal.New(v, -microUnits)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
