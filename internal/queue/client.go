package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/constants"

	"github.com/hibiken/asynq"
)

// 队列名称
const (
	CriticalQueue = constants.QueueCritical
	DefaultQueue  = constants.QueueDefault
)

// taskPolicy 每类任务的默认投递参数，调用方传入的 option 覆盖这里的值
type taskPolicy struct {
	queue    string
	maxRetry int
	timeout  time.Duration
}

var policies = map[string]taskPolicy{
	TaskCommissionAccrue:         {queue: CriticalQueue, maxRetry: 10, timeout: 30 * time.Second},
	TaskSubscriptionExpireLapsed: {queue: DefaultQueue, maxRetry: 3, timeout: time.Minute},
}

// Client asynq 投递端，未启用队列时所有投递都是 no-op
type Client struct {
	client *asynq.Client
	queues map[string]int
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{}, nil
	}
	return &Client{
		client: asynq.NewClient(redisOpt(cfg)),
		queues: serverQueues(cfg),
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// EnqueueCommissionAccrue 投递佣金计提，任务 ID 按订单去重，重复投递视为成功
func (c *Client) EnqueueCommissionAccrue(payload CommissionAccruePayload, opts ...asynq.Option) error {
	task, err := NewCommissionAccrueTask(payload)
	if err != nil {
		return err
	}
	opts = append([]asynq.Option{asynq.TaskID(fmt.Sprintf("%s:%d", TaskCommissionAccrue, payload.OrderID))}, opts...)
	err = c.enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueSubscriptionExpire 投递订阅清扫
func (c *Client) EnqueueSubscriptionExpire(payload SubscriptionExpirePayload, opts ...asynq.Option) error {
	task, err := NewSubscriptionExpireTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, opts...)
}

func (c *Client) enqueue(task *asynq.Task, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	_, err := c.client.Enqueue(task, append(c.defaultOptions(task.Type()), opts...)...)
	return err
}

// defaultOptions 目标队列未被 worker 监听时回落到 default
func (c *Client) defaultOptions(taskType string) []asynq.Option {
	policy, ok := policies[taskType]
	if !ok {
		return []asynq.Option{asynq.Queue(DefaultQueue)}
	}
	queue := policy.queue
	if _, listened := c.queues[queue]; !listened {
		queue = DefaultQueue
	}
	return []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(policy.maxRetry),
		asynq.Timeout(policy.timeout),
	}
}

// BuildServerConfig 生成 worker 端连接与并发配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	return redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      serverQueues(cfg),
	}
}

func serverQueues(cfg *config.QueueConfig) map[string]int {
	queues := map[string]int{}
	if cfg != nil {
		for name, weight := range cfg.Queues {
			name = strings.TrimSpace(name)
			if name != "" && weight > 0 {
				queues[name] = weight
			}
		}
	}
	if len(queues) == 0 {
		queues[CriticalQueue] = 6
		queues[DefaultQueue] = 3
	}
	if _, ok := queues[DefaultQueue]; !ok {
		queues[DefaultQueue] = 1
	}
	return queues
}

func redisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}
	if cfg == nil {
		return opt
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	opt.Addr = fmt.Sprintf("%s:%d", host, port)
	opt.Password = cfg.Password
	opt.DB = cfg.DB
	return opt
}
