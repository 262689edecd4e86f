/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package redshift

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-errors/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/database"
)

// isDuplicateColumn detects a concurrent ALTER of the same table.
func isDuplicateColumn(
	err error,
) bool {

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.DuplicateColumn
	}
	return false
}

type connector struct {
	pgxConfig *pgx.ConnConfig
}

// NewConnector builds the warehouse connector from the connection options.
// Redshift speaks the Postgres wire protocol, so pgx in simple mode works.
func NewConnector(
	c *spiconfig.Config,
) (database.Connector, error) {

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.DbName,
	)
	pgxConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	// Redshift doesn't implement the extended protocol statement cache
	pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	return &connector{
		pgxConfig: pgxConfig,
	}, nil
}

func (c *connector) NewSession(
	timeout time.Duration, fn func(session database.Session) error,
) error {

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	connection, err := pgx.ConnectConfig(ctx, c.pgxConfig)
	if err != nil {
		return fmt.Errorf("unable to connect to warehouse: %v", err)
	}
	defer connection.Close(context.Background())

	return fn(&session{
		connection: connection,
		ctx:        ctx,
	})
}

type session struct {
	connection *pgx.Conn
	ctx        context.Context
}

func (s *session) QueryFunc(
	fn func(row database.Row) error, query string, args ...any,
) error {

	rows, err := s.connection.Query(s.ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s *session) QueryRow(
	query string, args ...any,
) database.Row {

	return s.connection.QueryRow(s.ctx, query, args...)
}

func (s *session) Exec(
	query string, args ...any,
) error {

	_, err := s.connection.Exec(s.ctx, query, args...)
	return err
}
