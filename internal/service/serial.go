package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNoPrefix        = "LO"
	transactionNoPrefix  = "CT"
	subscriptionNoPrefix = "SB"
	batchNoPrefix        = "RB"
)

// 流水号 = 前缀 + 时间 + uuid 片段，保证全局唯一且大致有序
func newSerial(prefix string, now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(fmt.Sprintf("%s%s%s", prefix, now.Format("20060102150405"), id[:12]))
}

func generateOrderNo(now time.Time) string        { return newSerial(orderNoPrefix, now) }
func generateTransactionNo(now time.Time) string  { return newSerial(transactionNoPrefix, now) }
func generateSubscriptionNo(now time.Time) string { return newSerial(subscriptionNoPrefix, now) }
func generateBatchNo(now time.Time) string        { return newSerial(batchNoPrefix, now) }

// 兑换码字符集，去掉 0/O 与 1/I
const (
	redemptionAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	redemptionGroupSize  = 4
	redemptionGroupCount = 4
)

// generateRedemptionCode 生成 XXXX-XXXX-XXXX-XXXX
func generateRedemptionCode() (string, error) {
	max := big.NewInt(int64(len(redemptionAlphabet)))
	var b strings.Builder
	b.Grow(redemptionGroupSize*redemptionGroupCount + redemptionGroupCount - 1)
	for g := 0; g < redemptionGroupCount; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < redemptionGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(redemptionAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// normalizeRedemptionCode 去空白转大写；未分组的 16 位码补齐连字符
func normalizeRedemptionCode(raw string) string {
	code := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if code == "" || strings.Contains(code, "-") {
		return code
	}
	if len(code) != redemptionGroupSize*redemptionGroupCount {
		return code
	}
	parts := make([]string, 0, redemptionGroupCount)
	for i := 0; i < len(code); i += redemptionGroupSize {
		parts = append(parts, code[i:i+redemptionGroupSize])
	}
	return strings.Join(parts, "-")
}

// HashRedemptionCode 兑换码落库只保存规范化后的哈希
func HashRedemptionCode(raw string) string {
	sum := sha256.Sum256([]byte(normalizeRedemptionCode(raw)))
	return hex.EncodeToString(sum[:])
}
