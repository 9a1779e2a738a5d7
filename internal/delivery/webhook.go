// Copyright 2026 fanjia1024
// Outbound best-effort delivery over channel webhooks

package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"agent-gateway/pkg/log"
	"agent-gateway/pkg/metrics"
)

// EndpointConfig 单个渠道的 webhook 端点配置
type EndpointConfig struct {
	URL       string
	AuthToken string
	// RateLimit 每秒请求数上限,0 表示不限流
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

type endpoint struct {
	client  *resty.Client
	url     string
	limiter *rate.Limiter
}

// Webhook 按渠道投递消息的 webhook 投递器。投递是尽力而为的:
// 失败只上报给调用方,不做重试。
type Webhook struct {
	endpoints map[string]*endpoint
	logger    *log.Logger
}

// NewWebhook 创建 webhook 投递器
func NewWebhook(configs map[string]EndpointConfig, logger *log.Logger) *Webhook {
	endpoints := make(map[string]*endpoint, len(configs))
	for channel, cfg := range configs {
		client := resty.New()
		if cfg.Timeout > 0 {
			client.SetTimeout(cfg.Timeout)
		} else {
			client.SetTimeout(10 * time.Second)
		}
		if cfg.AuthToken != "" {
			client.SetAuthToken(cfg.AuthToken)
		}

		var limiter *rate.Limiter
		if cfg.RateLimit > 0 {
			burst := cfg.Burst
			if burst <= 0 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		endpoints[channel] = &endpoint{client: client, url: cfg.URL, limiter: limiter}
	}
	return &Webhook{endpoints: endpoints, logger: logger}
}

// Deliver 向渠道投递一条消息
func (w *Webhook) Deliver(ctx context.Context, channel, to, text string) error {
	ep, ok := w.endpoints[channel]
	if !ok {
		metrics.DeliveryTotal.WithLabelValues(channel, "false").Inc()
		return fmt.Errorf("no endpoint configured for channel %q", channel)
	}

	if ep.limiter != nil {
		if err := ep.limiter.Wait(ctx); err != nil {
			metrics.DeliveryTotal.WithLabelValues(channel, "false").Inc()
			return fmt.Errorf("rate limit wait aborted: %w", err)
		}
	}

	resp, err := ep.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"to": to, "text": text}).
		Post(ep.url)
	if err != nil {
		metrics.DeliveryTotal.WithLabelValues(channel, "false").Inc()
		return fmt.Errorf("failed to deliver to channel %q: %w", channel, err)
	}
	if resp.IsError() {
		metrics.DeliveryTotal.WithLabelValues(channel, "false").Inc()
		return fmt.Errorf("channel %q webhook returned %s", channel, resp.Status())
	}

	metrics.DeliveryTotal.WithLabelValues(channel, "true").Inc()
	w.logger.Debug("message delivered", "channel", channel, "to", to)
	return nil
}
