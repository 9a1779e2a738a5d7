// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway 组装网关的各个子系统:调度器、收件箱、子 agent
// 注册表、checkpoint 管理与出站投递。cmd 只负责加载配置与信号处理。
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"agent-gateway/internal/agent"
	"agent-gateway/internal/agent/subagent"
	"agent-gateway/internal/agent/workflow"
	"agent-gateway/internal/cron"
	"agent-gateway/internal/delivery"
	"agent-gateway/internal/routing"
	"agent-gateway/pkg/config"
	"agent-gateway/pkg/log"
	"agent-gateway/pkg/metrics"
	"agent-gateway/pkg/tracing"
)

// Option 覆盖 App 的缺省装配
type Option func(*options)

type options struct {
	executor subagent.Executor
	waker    func(agentID string)
}

// WithExecutor 注入 agent 执行器。未注入时所有 agent turn 返回错误,
// 调度与事件注入仍然可用。
func WithExecutor(exec subagent.Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithAgentWaker 注入 agent 唤醒回调,收件箱收到 wake-now 事件时调用
func WithAgentWaker(fn func(agentID string)) Option {
	return func(o *options) { o.waker = fn }
}

// App 网关应用
type App struct {
	config *config.Config
	logger *log.Logger

	inbox       *agent.Inbox
	registry    *subagent.Registry
	checkpoints *workflow.Manager
	sweeper     *workflow.Sweeper
	scheduler   *cron.Scheduler
	deliverer   *delivery.Webhook

	tracerProvider *sdktrace.TracerProvider
	metricsSrv     *http.Server
	closers        []func()
}

// NewApp 根据配置装配网关
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.executor == nil {
		o.executor = noopExecutor{}
	}

	logger, err := log.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	a := &App{config: cfg, logger: logger}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ExportEndpoint: cfg.Tracing.ExportEndpoint,
			Insecure:       cfg.Tracing.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init tracer: %w", err)
		}
		a.tracerProvider = tp
	}

	jobStore, err := a.newJobStore()
	if err != nil {
		return nil, err
	}
	cpStore, err := a.newCheckpointStore()
	if err != nil {
		return nil, err
	}

	if len(cfg.Delivery.Endpoints) > 0 {
		endpoints := make(map[string]delivery.EndpointConfig, len(cfg.Delivery.Endpoints))
		for channel, ep := range cfg.Delivery.Endpoints {
			endpoints[channel] = delivery.EndpointConfig{
				URL:       ep.URL,
				AuthToken: ep.AuthToken,
				RateLimit: ep.RateLimit,
				Burst:     ep.Burst,
				Timeout:   ep.Timeout,
			}
		}
		a.deliverer = delivery.NewWebhook(endpoints, logger)
	}

	a.inbox = agent.NewInbox(0, o.waker, logger)

	a.registry = subagent.NewRegistry(o.executor, subagent.Config{
		MaxChildren:   cfg.Subagents.MaxChildren,
		MaxSpawnDepth: cfg.Subagents.MaxSpawnDepth,
		RunTimeout:    cfg.Subagents.RunTimeout,
	}, logger)
	// 子任务进入终态后把结果作为系统事件回灌给父 agent
	a.registry.SetAnnouncer(func(run *subagent.Run) {
		msg := fmt.Sprintf("subagent %s finished: %s", run.ChildKey, run.Outcome.Status)
		if run.Outcome.Error != "" {
			msg = fmt.Sprintf("subagent %s failed: %s", run.ChildKey, run.Outcome.Error)
		}
		if err := a.inbox.PushSystemEvent(context.Background(), run.AgentID, msg, true); err != nil {
			logger.Error("failed to announce subagent outcome", "run_id", run.RunID, "error", err)
		}
	})

	a.checkpoints = workflow.NewManager(cpStore, logger)
	a.sweeper = workflow.NewSweeper(cpStore, logger,
		cfg.Checkpoint.SweepInterval, cfg.Checkpoint.ArchiveAfter, cfg.Checkpoint.DeleteAfter)

	dispatcher := cron.NewDispatcher(a.inbox, &turnRunner{
		executor: o.executor,
		registry: a.registry,
	}, a.delivererOrNil(), logger)
	a.scheduler = cron.NewScheduler(jobStore, dispatcher, logger, cron.Settings{
		MaxTimerDelay:  cfg.Scheduler.MaxTimerDelay,
		DefaultAgentID: cfg.Scheduler.DefaultAgentID,
		DispatchJitter: cfg.Scheduler.DispatchJitter,
	})

	if cfg.Monitoring.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if err := metrics.WritePrometheus(w); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		a.metricsSrv = &http.Server{Addr: cfg.Monitoring.Addr, Handler: mux}
	}

	return a, nil
}

func (a *App) newJobStore() (cron.JobStore, error) {
	if a.config.JobStore.Backend == "postgres" {
		store, err := cron.NewJobStorePG(context.Background(), a.config.JobStore.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres job store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return cron.NewJobStoreMem(), nil
}

func (a *App) newCheckpointStore() (workflow.Store, error) {
	if a.config.Checkpoint.Backend == "postgres" {
		store, err := workflow.NewStorePG(context.Background(), a.config.Checkpoint.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres checkpoint store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return workflow.NewStoreMem(), nil
}

func (a *App) delivererOrNil() cron.Deliverer {
	if a.deliverer == nil {
		return nil
	}
	return a.deliverer
}

// Start 启动调度循环、checkpoint 清理与监控端点
func (a *App) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.sweeper.Start(ctx)

	if a.metricsSrv != nil {
		go func() {
			a.logger.Info("monitoring endpoint listening", "addr", a.metricsSrv.Addr)
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("monitoring server exited", "error", err)
			}
		}()
	}

	a.logger.Info("gateway started")
	return nil
}

// Shutdown 优雅停机。先停调度循环再关外部资源。
func (a *App) Shutdown(ctx context.Context) error {
	a.scheduler.Stop()
	a.sweeper.Stop()

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shut down monitoring server", "error", err)
		}
	}
	if a.tracerProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shut down tracer", "error", err)
		}
	}
	for _, closeFn := range a.closers {
		closeFn()
	}

	a.logger.Info("gateway stopped")
	return nil
}

// Scheduler 返回定时任务调度器
func (a *App) Scheduler() *cron.Scheduler { return a.scheduler }

// Subagents 返回子 agent 注册表
func (a *App) Subagents() *subagent.Registry { return a.registry }

// Checkpoints 返回 checkpoint 管理器
func (a *App) Checkpoints() *workflow.Manager { return a.checkpoints }

// Inbox 返回系统事件收件箱
func (a *App) Inbox() *agent.Inbox { return a.inbox }

// turnRunner 把定时任务的 agent turn 转交出去。main 目标直接在 agent
// 主会话中运行;isolated 目标以任务的 cron 会话 key 为请求方,经注册表
// 派生一次性子会话并等待终态,运行全程留有 Run 记录,可查询可终止。
type turnRunner struct {
	executor subagent.Executor
	registry *subagent.Registry
}

func (t *turnRunner) RunTurn(ctx context.Context, req cron.TurnRequest) (string, error) {
	if req.Target == cron.SessionIsolated {
		return t.runIsolated(ctx, req)
	}
	result, err := t.executor.RunTurn(ctx, subagent.TurnRequest{
		SessionKey:  routing.AgentMainKey(req.AgentID),
		AgentID:     req.AgentID,
		Prompt:      req.Message,
		AllowUnsafe: req.AllowUnsafe,
	}, subagent.Callbacks{})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

func (t *turnRunner) runIsolated(ctx context.Context, req cron.TurnRequest) (string, error) {
	run, err := t.registry.Spawn(ctx, subagent.SpawnRequest{
		RequesterKey: req.RequesterKey,
		Task:         req.Message,
		AllowUnsafe:  req.AllowUnsafe,
	})
	if err != nil {
		return "", err
	}
	finished, err := t.registry.Wait(ctx, run.RunID)
	if err != nil {
		return "", err
	}
	if finished.Outcome.Status != "ok" {
		return "", fmt.Errorf("isolated run failed: %s", finished.Outcome.Error)
	}
	return finished.Output, nil
}

// noopExecutor 占位执行器,未注入真实执行器时使用
type noopExecutor struct{}

func (noopExecutor) RunTurn(ctx context.Context, req subagent.TurnRequest, cb subagent.Callbacks) (subagent.TurnResult, error) {
	return subagent.TurnResult{}, fmt.Errorf("no agent executor configured")
}
