package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// executor runs a single Cypher statement in a managed transaction and
// returns every record. Store talks to Neo4j only through it.
type executor interface {
	read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
	write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
	ping(ctx context.Context) error
	close(ctx context.Context) error
}

type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

type driverExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

func newDriverExecutor(cfg Config) (*driverExecutor, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = 50
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &driverExecutor{driver: driver, database: cfg.Database}, nil
}

func (e *driverExecutor) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return e.execute(ctx, neo4j.AccessModeRead, cypher, params)
}

func (e *driverExecutor) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return e.execute(ctx, neo4j.AccessModeWrite, cypher, params)
}

func (e *driverExecutor) execute(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: e.database})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	}

	var (
		out any
		err error
	)
	if mode == neo4j.AccessModeWrite {
		out, err = session.ExecuteWrite(ctx, work)
	} else {
		out, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

func (e *driverExecutor) ping(ctx context.Context) error {
	return e.driver.VerifyConnectivity(ctx)
}

func (e *driverExecutor) close(ctx context.Context) error {
	return e.driver.Close(ctx)
}
