package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	dialTimeout  = 5 * time.Second
	probeTimeout = 3 * time.Second
)

// Client wraps the etcd client used for service registration.
// When etcd is unreachable the client degrades to disabled instead of
// failing bootstrap; registration is optional infrastructure.
type Client struct {
	client  *clientv3.Client
	enabled bool
	logger  *zap.Logger
}

// NewClient creates an etcd client and probes the first endpoint
func NewClient(endpoints []string, enabled bool, logger *zap.Logger) (*Client, error) {
	if !enabled {
		return &Client{enabled: false, logger: logger}, nil
	}

	if len(endpoints) == 0 {
		endpoints = []string{"http://localhost:2379"}
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if _, err := client.Status(ctx, endpoints[0]); err != nil {
		logger.Warn("etcd connection test failed, service registration disabled", zap.Error(err))
		client.Close()
		return &Client{enabled: false, logger: logger}, nil
	}

	logger.Info("etcd client initialized", zap.Strings("endpoints", endpoints))
	return &Client{
		client:  client,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled reports whether etcd is connected and usable
func (c *Client) IsEnabled() bool {
	return c.enabled && c.client != nil
}

// GetClient returns the underlying etcd client for lease and KV operations
func (c *Client) GetClient() *clientv3.Client {
	return c.client
}

// Close closes the etcd client
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
