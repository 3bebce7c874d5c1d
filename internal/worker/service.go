package worker

import (
	"context"
	"errors"
	"time"

	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/queue"

	"github.com/hibiken/asynq"
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// SweepService 周期性清扫超出宽限期的订阅
// 队列可用时投递任务由 worker 执行，否则在本进程内直接执行
type SweepService struct {
	consumer *Consumer
	interval time.Duration
	batch    int
}

// NewSweepService 创建订阅清扫服务
func NewSweepService(consumer *Consumer, interval time.Duration) *SweepService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepService{consumer: consumer, interval: interval, batch: defaultExpireBatch}
}

// Name 服务名称
func (s *SweepService) Name() string {
	return "sweep"
}

// Start 按间隔运行，ctx 取消后退出
func (s *SweepService) Start(ctx context.Context) error {
	if s == nil || s.consumer == nil || s.consumer.Container == nil {
		return errors.New("sweep not initialized")
	}
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Stop 停止服务
func (s *SweepService) Stop(ctx context.Context) error {
	return nil
}

func (s *SweepService) runOnce(ctx context.Context) {
	client := s.consumer.QueueClient
	if client.Enabled() {
		err := client.EnqueueSubscriptionExpire(queue.SubscriptionExpirePayload{Limit: s.batch},
			asynq.Unique(s.interval))
		if err == nil || errors.Is(err, asynq.ErrDuplicateTask) {
			return
		}
		logger.Warnw("sweep_enqueue_failed", "error", err)
	}
	_, _ = s.consumer.expireLapsed(ctx, s.batch)
}
