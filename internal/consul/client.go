package consul

import (
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

const (
	watchWaitTime  = 10 * time.Second
	watchRetryWait = 5 * time.Second
)

// Client wraps the Consul API client used for the config overlay and
// service registration. An unreachable agent degrades the client to
// disabled instead of failing bootstrap.
type Client struct {
	apiClient *api.Client
	enabled   bool
	logger    *zap.Logger
}

// NewClient creates a Consul client and probes the agent
func NewClient(address string, enabled bool, logger *zap.Logger) (*Client, error) {
	if !enabled {
		return &Client{enabled: false, logger: logger}, nil
	}

	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}

	apiClient, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	if _, _, err := apiClient.Health().State(api.HealthAny, nil); err != nil {
		logger.Warn("Consul connection test failed, will use fallback config", zap.Error(err))
		return &Client{enabled: false, logger: logger}, nil
	}

	logger.Info("Consul client initialized", zap.String("address", address))
	return &Client{
		apiClient: apiClient,
		enabled:   true,
		logger:    logger,
	}, nil
}

// IsEnabled reports whether the agent is connected and usable
func (c *Client) IsEnabled() bool {
	return c.enabled && c.apiClient != nil
}

// GetKVWithDefault reads a KV entry, falling back to the default when
// Consul is disabled or the key is missing
func (c *Client) GetKVWithDefault(key string, defaultValue string) string {
	if !c.IsEnabled() {
		return defaultValue
	}

	pair, _, err := c.apiClient.KV().Get(key, nil)
	if err != nil || pair == nil {
		c.logger.Debug("Consul key unavailable, using default",
			zap.String("key", key),
			zap.Error(err),
		)
		return defaultValue
	}

	return string(pair.Value)
}

// WatchKV blocks on a key and invokes the callback on every change.
// Runs until the process exits; callers start it on its own goroutine.
func (c *Client) WatchKV(key string, callback func(string) error) error {
	if !c.IsEnabled() {
		return fmt.Errorf("Consul is not enabled")
	}

	kv := c.apiClient.KV()
	lastIndex := uint64(0)

	for {
		pair, meta, err := kv.Get(key, &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  watchWaitTime,
		})
		if err != nil {
			c.logger.Error("Error watching Consul key",
				zap.String("key", key),
				zap.Error(err),
			)
			time.Sleep(watchRetryWait)
			continue
		}

		if meta.LastIndex > lastIndex {
			lastIndex = meta.LastIndex
			if pair != nil {
				if err := callback(string(pair.Value)); err != nil {
					c.logger.Error("Error in Consul watch callback",
						zap.String("key", key),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// RegisterService registers this service instance with Consul
func (c *Client) RegisterService(registration *api.AgentServiceRegistration) error {
	if !c.IsEnabled() {
		return fmt.Errorf("Consul is not enabled")
	}

	if err := c.apiClient.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.logger.Info("Service registered with Consul",
		zap.String("service_id", registration.ID),
		zap.String("service_name", registration.Name),
	)

	return nil
}

// DeregisterService removes this service instance from Consul
func (c *Client) DeregisterService(serviceID string) error {
	if !c.IsEnabled() {
		return nil
	}

	if err := c.apiClient.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}

	c.logger.Info("Service deregistered from Consul",
		zap.String("service_id", serviceID),
	)

	return nil
}
