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

package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"agent-gateway/pkg/log"
	"agent-gateway/pkg/secrets"
)

// Config 网关全局配置
type Config struct {
	Log        log.Config       `mapstructure:"log"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	JobStore   JobStoreConfig   `mapstructure:"jobstore"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Subagents  SubagentConfig   `mapstructure:"subagents"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Secrets    secrets.Config   `mapstructure:"secrets"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	DefaultAgentID string        `mapstructure:"default_agent_id"` // 默认 agent(缺省 "main")
	MaxTimerDelay  time.Duration `mapstructure:"max_timer_delay"`  // 定时器最长休眠(缺省 60s)
	DispatchJitter time.Duration `mapstructure:"dispatch_jitter"`  // 触发抖动上限,0 表示关闭
}

// JobStoreConfig 定时任务持久化配置
type JobStoreConfig struct {
	Backend  string `mapstructure:"backend"` // memory | postgres
	Postgres string `mapstructure:"postgres"`
}

// CheckpointConfig Checkpoint 存储与清理配置
type CheckpointConfig struct {
	Backend       string        `mapstructure:"backend"` // memory | postgres
	Postgres      string        `mapstructure:"postgres"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 缺省 1h
	ArchiveAfter  time.Duration `mapstructure:"archive_after"`  // 缺省 24h
	DeleteAfter   time.Duration `mapstructure:"delete_after"`   // 缺省 168h
}

// SubagentConfig 子 agent 生成限制
type SubagentConfig struct {
	MaxChildren   int           `mapstructure:"max_children"`    // 单个请求方活跃子任务上限
	MaxSpawnDepth int           `mapstructure:"max_spawn_depth"` // 嵌套派生深度上限
	RunTimeout    time.Duration `mapstructure:"run_timeout"`     // 单次子任务运行超时
}

// DeliveryConfig 出站投递配置
type DeliveryConfig struct {
	Endpoints map[string]EndpointConfig `mapstructure:"endpoints"` // channel -> webhook
}

// EndpointConfig 单渠道 webhook 端点
type EndpointConfig struct {
	URL       string        `mapstructure:"url"`
	AuthToken string        `mapstructure:"auth_token"`
	RateLimit float64       `mapstructure:"rate_limit"` // 每秒请求数,0 表示不限
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// Load 加载配置文件并应用缺省值
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scheduler.default_agent_id", "main")
	v.SetDefault("scheduler.max_timer_delay", "60s")

	v.SetDefault("jobstore.backend", "memory")
	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.sweep_interval", "1h")
	v.SetDefault("checkpoint.archive_after", "24h")
	v.SetDefault("checkpoint.delete_after", "168h")

	v.SetDefault("subagents.max_children", 8)
	v.SetDefault("subagents.max_spawn_depth", 2)
	v.SetDefault("subagents.run_timeout", "10m")

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "agent-gateway")

	v.SetDefault("secrets.provider", "env")
}

var secretRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// resolveSecrets 将 ${KEY} 形式的引用替换为 secret store 中的值
func (c *Config) resolveSecrets() error {
	store, err := secrets.NewStore(c.Secrets)
	if err != nil {
		return fmt.Errorf("failed to create secret store: %w", err)
	}
	ctx := context.Background()

	resolve := func(field *string) error {
		m := secretRefPattern.FindStringSubmatch(*field)
		if m == nil {
			return nil
		}
		value, err := store.Get(ctx, m[1])
		if err != nil {
			return fmt.Errorf("failed to resolve secret %s: %w", m[1], err)
		}
		*field = value
		return nil
	}

	if err := resolve(&c.JobStore.Postgres); err != nil {
		return err
	}
	if err := resolve(&c.Checkpoint.Postgres); err != nil {
		return err
	}
	for name, ep := range c.Delivery.Endpoints {
		if err := resolve(&ep.AuthToken); err != nil {
			return err
		}
		c.Delivery.Endpoints[name] = ep
	}
	return nil
}
