package routerstub

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Resolver answers the upward GET_PHYSICAL_ADDRESS query: given a
// router's logical name, return its current physical endpoint.
type Resolver interface {
	Resolve(ctx context.Context, logicalAddress string) (string, error)
}

// EtcdConfig configures an EtcdResolver's connection to the registry
// that tracks router physical addresses.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	KeyPrefix   string
}

// DefaultEtcdConfig returns sane defaults for a local development etcd.
func DefaultEtcdConfig() EtcdConfig {
	return EtcdConfig{
		Endpoints:   []string{"127.0.0.1:2379"},
		DialTimeout: 5 * time.Second,
		KeyPrefix:   "/nakwindow/routers/",
	}
}

// EtcdResolver resolves a router's logical name to its current physical
// address by reading the value etcd holds under KeyPrefix+logicalName.
//
// Grounded on internal/gateway/discovery/etcd.go's EtcdClient.Get, with
// the registration/keepalive half of that file left out: a RouterStub's
// own physical address is published by whatever process runs the
// router, not by this resolver.
type EtcdResolver struct {
	client    *clientv3.Client
	logger    *zap.Logger
	keyPrefix string
}

// NewEtcdResolver dials etcd per cfg and returns a ready EtcdResolver.
func NewEtcdResolver(cfg EtcdConfig, logger *zap.Logger) (*EtcdResolver, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &EtcdResolver{client: client, logger: logger, keyPrefix: cfg.KeyPrefix}, nil
}

// Resolve looks up logicalAddress's physical endpoint in etcd.
func (r *EtcdResolver) Resolve(ctx context.Context, logicalAddress string) (string, error) {
	resp, err := r.client.Get(ctx, r.keyPrefix+logicalAddress)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", logicalAddress, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("no physical address registered for %s", logicalAddress)
	}
	return string(resp.Kvs[0].Value), nil
}

// Close releases the resolver's etcd client.
func (r *EtcdResolver) Close() error {
	return r.client.Close()
}
