package cache

import (
	"context"
	"fmt"
	"time"
)

const defaultBalanceTTL = 30 * time.Second

// BalanceStore 积分余额读缓存，只服务展示读取
type BalanceStore struct {
	ttl time.Duration
}

// NewBalanceStore 创建余额缓存，ttl<=0 时使用默认值
func NewBalanceStore(ttl time.Duration) *BalanceStore {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &BalanceStore{ttl: ttl}
}

type balanceEntry struct {
	Balance  int64 `json:"balance"`
	CachedAt int64 `json:"cached_at"`
}

func balanceKey(userID uint) string {
	return fmt.Sprintf("credit:balance:%d", userID)
}

// GetBalance 命中返回 (balance, true)
func (s *BalanceStore) GetBalance(ctx context.Context, userID uint) (int64, bool, error) {
	if userID == 0 {
		return 0, false, nil
	}
	var entry balanceEntry
	ok, err := getJSON(ctx, balanceKey(userID), &entry)
	if err != nil || !ok {
		return 0, false, err
	}
	return entry.Balance, true, nil
}

// SetBalance 写入余额
func (s *BalanceStore) SetBalance(ctx context.Context, userID uint, balance int64) error {
	if userID == 0 {
		return nil
	}
	return setJSON(ctx, balanceKey(userID), balanceEntry{Balance: balance, CachedAt: time.Now().Unix()}, s.ttl)
}

// DeleteBalance 账本提交后失效
func (s *BalanceStore) DeleteBalance(ctx context.Context, userID uint) error {
	if userID == 0 {
		return nil
	}
	return del(ctx, balanceKey(userID))
}
