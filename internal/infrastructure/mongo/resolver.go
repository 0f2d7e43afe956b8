package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
)

// Resolver discovers replica sets behind a connection. For sharded
// deployments it reads the shard registry on the config servers.
type Resolver struct {
	conn                *Connection
	includeConfigServer bool
	logger              logger.Logger
	closed              bool
}

// NewResolver creates a resolver over an established connection.
func NewResolver(conn *Connection, includeConfigServer bool, log logger.Logger) *Resolver {
	return &Resolver{
		conn:                conn,
		includeConfigServer: includeConfigServer,
		logger:              log,
	}
}

// ResolveSingle returns the name and handle of the local replica set.
func (r *Resolver) ResolveSingle(ctx context.Context) (string, *domain.ReplicaSet, error) {
	resp, err := r.conn.hello(ctx)
	if err != nil {
		return "", nil, err
	}
	if resp.SetName == "" {
		return "", nil, fmt.Errorf("host is not a replica set member")
	}

	return resp.SetName, &domain.ReplicaSet{
		Name:  resp.SetName,
		Hosts: resp.Hosts,
	}, nil
}

// shardSpec mirrors one document of the config.shards collection, where the
// host field has the form "rsName/host1:port,host2:port".
type shardSpec struct {
	ID   string `bson:"_id"`
	Host string `bson:"host"`
}

// ResolveSharded returns the full shard-name to replica-set map, optionally
// including the config server replica set.
func (r *Resolver) ResolveSharded(ctx context.Context) (map[string]*domain.ReplicaSet, error) {
	cur, err := r.conn.Client().Database("config").Collection("shards").Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to query config.shards: %w", err)
	}
	defer cur.Close(ctx)

	replicaSets := make(map[string]*domain.ReplicaSet)
	for cur.Next(ctx) {
		var spec shardSpec
		if err := cur.Decode(&spec); err != nil {
			return nil, fmt.Errorf("failed to decode shard document: %w", err)
		}

		rs, err := parseReplicaSetHost(spec.Host)
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", spec.ID, err)
		}
		replicaSets[spec.ID] = rs
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config.shards: %w", err)
	}
	if len(replicaSets) == 0 {
		return nil, fmt.Errorf("no shards registered in config.shards")
	}

	if r.includeConfigServer {
		if err := r.addConfigServer(ctx, replicaSets); err != nil {
			// The shard map alone still yields a usable data backup; the
			// config metadata gap is surfaced to the operator.
			r.logger.Warn("Failed to resolve config server replica set", "error", err)
		}
	}

	return replicaSets, nil
}

// addConfigServer resolves the config server replica set via getShardMap.
func (r *Resolver) addConfigServer(ctx context.Context, replicaSets map[string]*domain.ReplicaSet) error {
	var resp struct {
		Map map[string]string `bson:"map"`
	}
	err := r.conn.Client().Database("admin").
		RunCommand(ctx, bson.D{{Key: "getShardMap", Value: 1}}).
		Decode(&resp)
	if err != nil {
		return fmt.Errorf("getShardMap command failed: %w", err)
	}

	host, ok := resp.Map["config"]
	if !ok {
		return fmt.Errorf("getShardMap reply has no config entry")
	}

	rs, err := parseReplicaSetHost(host)
	if err != nil {
		return err
	}
	rs.ConfigServer = true
	replicaSets[rs.Name] = rs
	return nil
}

// parseReplicaSetHost splits "rsName/host1:port,host2:port" into a handle.
func parseReplicaSetHost(host string) (*domain.ReplicaSet, error) {
	name, members, ok := strings.Cut(host, "/")
	if !ok || name == "" || members == "" {
		return nil, fmt.Errorf("unexpected shard host format %q", host)
	}
	return &domain.ReplicaSet{
		Name:  name,
		Hosts: strings.Split(members, ","),
	}, nil
}

// Close releases discovery resources. Safe to call more than once; the
// underlying connection is owned and closed by the caller.
func (r *Resolver) Close() error {
	r.closed = true
	return nil
}
