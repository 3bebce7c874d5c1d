package queue

import (
	"encoding/json"
	"fmt"

	"github.com/credit-ledger/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskCommissionAccrue 订单支付后计提佣金
	TaskCommissionAccrue = constants.TaskCommissionAccrue
	// TaskSubscriptionExpireLapsed 过期订阅清扫
	TaskSubscriptionExpireLapsed = constants.TaskSubscriptionExpireLapsed
)

// CommissionAccruePayload 佣金计提任务载荷
type CommissionAccruePayload struct {
	OrderID uint `json:"order_id"`
}

// SubscriptionExpirePayload 订阅清扫任务载荷
type SubscriptionExpirePayload struct {
	Limit int `json:"limit"`
}

// NewCommissionAccrueTask 创建佣金计提任务
func NewCommissionAccrueTask(payload CommissionAccruePayload) (*asynq.Task, error) {
	if payload.OrderID == 0 {
		return nil, fmt.Errorf("commission accrue task requires order_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCommissionAccrue, body), nil
}

// NewSubscriptionExpireTask 创建订阅清扫任务
func NewSubscriptionExpireTask(payload SubscriptionExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSubscriptionExpireLapsed, body), nil
}

// ParseCommissionAccruePayload 解析佣金计提载荷
func ParseCommissionAccruePayload(task *asynq.Task) (CommissionAccruePayload, error) {
	var payload CommissionAccruePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.OrderID == 0 {
		return payload, fmt.Errorf("commission accrue payload missing order_id")
	}
	return payload, nil
}

// ParseSubscriptionExpirePayload 解析订阅清扫载荷
func ParseSubscriptionExpirePayload(task *asynq.Task) (SubscriptionExpirePayload, error) {
	var payload SubscriptionExpirePayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}
