package worker

import (
	"context"
	"errors"

	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/provider"
	"github.com/credit-ledger/internal/queue"
	"github.com/credit-ledger/internal/service"

	"github.com/hibiken/asynq"
)

const defaultExpireBatch = 200

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskCommissionAccrue, c.handleCommissionAccrue)
	mux.HandleFunc(queue.TaskSubscriptionExpireLapsed, c.handleSubscriptionExpire)
}

func (c *Consumer) handleCommissionAccrue(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_commission_accrue_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseCommissionAccruePayload(task)
	if err != nil {
		// 载荷损坏重试无意义
		logger.Warnw("worker_commission_accrue_payload_invalid", "error", err)
		return errors.Join(err, asynq.SkipRetry)
	}
	if c.CommissionService == nil {
		logger.Warnw("worker_commission_accrue_skip_service_nil", "order_id", payload.OrderID)
		return nil
	}
	commission, created, err := c.CommissionService.AccrueForOrder(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			logger.Debugw("worker_commission_accrue_skip_order_not_found", "order_id", payload.OrderID)
			return nil
		}
		logger.Warnw("worker_commission_accrue_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	if created {
		logger.Infow("worker_commission_accrued", "order_id", payload.OrderID, "commission_id", commission.ID)
	}
	return nil
}

func (c *Consumer) handleSubscriptionExpire(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_subscription_expire_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseSubscriptionExpirePayload(task)
	if err != nil {
		logger.Warnw("worker_subscription_expire_payload_invalid", "error", err)
		return errors.Join(err, asynq.SkipRetry)
	}
	_, err = c.expireLapsed(ctx, payload.Limit)
	return err
}

func (c *Consumer) expireLapsed(ctx context.Context, limit int) (int, error) {
	if c.SubscriptionService == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	expired, err := c.SubscriptionService.ExpireLapsed(ctx, limit)
	if err != nil {
		logger.Warnw("worker_subscription_expire_failed", "error", err)
		return expired, err
	}
	if expired > 0 {
		logger.Infow("worker_subscription_expired", "count", expired)
	}
	return expired, nil
}
