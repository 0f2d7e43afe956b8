package mongo

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/repository"
)

var (
	_ repository.Connection         = (*Connection)(nil)
	_ repository.ReplicaSetResolver = (*Resolver)(nil)
	_ repository.BalancerController = (*BalancerController)(nil)
)

// Connection wraps a mongo client and answers deployment role queries.
type Connection struct {
	client *mongo.Client

	mu     sync.Mutex
	closed bool
}

// helloResponse is the subset of the hello command reply used for role
// detection. Mongos replies with msg "isdbgrid"; config server members reply
// with configsvr 2; replica-set members carry their set name.
type helloResponse struct {
	Msg       string   `bson:"msg"`
	SetName   string   `bson:"setName"`
	ConfigSvr int      `bson:"configsvr"`
	Hosts     []string `bson:"hosts"`
}

// Connect establishes a connection to the configured endpoint. Reads prefer
// secondaries so a snapshot run never competes with primary traffic.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Connection, error) {
	opts := options.Client().
		ApplyURI(cfg.URI()).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetReadPreference(readpref.SecondaryPreferred()).
		SetDirect(cfg.Direct)

	if cfg.AuthSource != "" && cfg.Username != "" {
		opts.SetAuth(options.Credential{
			AuthSource: cfg.AuthSource,
			Username:   cfg.Username,
			Password:   cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URI(), err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.URI(), err)
	}

	return &Connection{client: client}, nil
}

func (c *Connection) hello(ctx context.Context) (*helloResponse, error) {
	var resp helloResponse
	err := c.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).
		Decode(&resp)
	if err != nil {
		return nil, fmt.Errorf("hello command failed: %w", err)
	}
	return &resp, nil
}

// IsRouter reports whether the endpoint is a mongos query router.
func (c *Connection) IsRouter(ctx context.Context) (bool, error) {
	resp, err := c.hello(ctx)
	if err != nil {
		return false, err
	}
	return resp.Msg == "isdbgrid", nil
}

// IsConfigServer reports whether the endpoint is a config server member.
func (c *Connection) IsConfigServer(ctx context.Context) (bool, error) {
	resp, err := c.hello(ctx)
	if err != nil {
		return false, err
	}
	return resp.ConfigSvr == 2, nil
}

// IsReplicaSet reports whether the endpoint is an ordinary replica-set
// member.
func (c *Connection) IsReplicaSet(ctx context.Context) (bool, error) {
	resp, err := c.hello(ctx)
	if err != nil {
		return false, err
	}
	return resp.SetName != "" && resp.Msg != "isdbgrid", nil
}

// Client exposes the underlying driver client to sibling infrastructure.
func (c *Connection) Client() *mongo.Client {
	return c.client
}

// Close disconnects. Safe to call more than once.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Disconnect(ctx)
}
