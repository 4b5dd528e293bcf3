//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/etlerr"
	"github.com/pgEdge/pgedge-pmdw/internal/source"
	"github.com/pgEdge/pgedge-pmdw/internal/transform"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

// Session is the set of resources a run works with.
type Session struct {
	Reader    source.Reader
	Warehouse warehouse.Store
	Strategy  transform.Strategy

	close func()
}

// Close releases the session's connections.
func (s *Session) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// Connector opens a session at the start of extraction.
type Connector interface {
	Connect(ctx context.Context) (*Session, error)
}

// StaticConnector serves a fixed reader and warehouse. The database
// strategy is unavailable because it needs a source connection.
type StaticConnector struct {
	Reader    source.Reader
	Warehouse warehouse.Store
	Strategy  string
}

// Connect builds the session.
func (c *StaticConnector) Connect(context.Context) (*Session, error) {
	name := c.Strategy
	if name == "" {
		name = transform.InProcessName
	}
	strategy, err := transform.New(name, transform.Deps{})
	if err != nil {
		return nil, err
	}
	return &Session{Reader: c.Reader, Warehouse: c.Warehouse, Strategy: strategy}, nil
}

// PostgresConnector opens pools to the source and destination databases.
type PostgresConnector struct {
	SourceConn      string
	DestinationConn string
	Destination     string // name used in logs and lock errors
	Strategy        string
	MaxConns        int32
	ConnectTimeout  time.Duration
}

// Connect opens both pools concurrently. A failure on either side closes
// whatever was opened and returns etlerr.ConnectivityError.
func (c *PostgresConnector) Connect(ctx context.Context) (*Session, error) {
	var src, dst *pgxpool.Pool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := db.Connect(gctx, c.SourceConn, db.PoolOptions{
			Name: "source", MaxConns: c.MaxConns, ConnectTimeout: c.ConnectTimeout,
		})
		if err != nil {
			return &etlerr.ConnectivityError{Endpoint: "source", Err: err}
		}
		src = pool
		return nil
	})
	g.Go(func() error {
		pool, err := db.Connect(gctx, c.DestinationConn, db.PoolOptions{
			Name: "destination", MaxConns: c.MaxConns, ConnectTimeout: c.ConnectTimeout,
		})
		if err != nil {
			return &etlerr.ConnectivityError{Endpoint: "destination", Err: err}
		}
		dst = pool
		return nil
	})

	closeAll := func() {
		if src != nil {
			src.Close()
		}
		if dst != nil {
			dst.Close()
		}
	}
	if err := g.Wait(); err != nil {
		closeAll()
		return nil, err
	}

	strategyName := c.Strategy
	if strategyName == "" {
		strategyName = transform.InProcessName
	}
	strategy, err := transform.New(strategyName, transform.Deps{Source: src})
	if err != nil {
		closeAll()
		return nil, err
	}

	name := c.Destination
	if name == "" {
		name = "destination"
	}
	return &Session{
		Reader:    source.NewPostgresReader(src),
		Warehouse: warehouse.NewPostgres(dst, name),
		Strategy:  strategy,
		close:     closeAll,
	}, nil
}
