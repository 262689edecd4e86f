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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-uuid"
	"github.com/rhodium-data/target-redshift/internal/containers"
	"github.com/rhodium-data/target-redshift/internal/logging"
	"github.com/rhodium-data/target-redshift/internal/naming"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/database"
	"github.com/rhodium-data/target-redshift/spi/objectstore"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
	"github.com/rhodium-data/target-redshift/spi/warehouse"
	"github.com/samber/lo"
)

const (
	ddlTimeout  = time.Minute
	loadTimeout = time.Hour

	maxRetries = 5
)

// loadSequenceColumn orders staged rows of primary-key streams inside the
// temp table, so the merge can pick the last writer per key.
const loadSequenceColumn = "_LOAD_SEQUENCE"

// CredentialsFunc resolves the credentials embedded into the COPY command
// when no role ARN is configured.
type CredentialsFunc func() (accessKeyId, secretAccessKey, sessionToken string, err error)

type syncer struct {
	logger    *logging.Logger
	config    *spiconfig.Config
	connector database.Connector
	store     objectstore.Store
	creds     CredentialsFunc

	cacheEnabled bool
	cache        *containers.ConcurrentMap[string, map[string]string]
	schemas      *containers.ConcurrentMap[string, bool]
}

func NewSyncer(
	config *spiconfig.Config, connector database.Connector,
	store objectstore.Store, creds CredentialsFunc,
) (warehouse.Syncer, error) {

	logger, err := logging.NewLogger("RedshiftSync")
	if err != nil {
		return nil, err
	}

	return &syncer{
		logger:       logger,
		config:       config,
		connector:    connector,
		store:        store,
		creds:        creds,
		cacheEnabled: !config.DisableTableCache,
		cache:        containers.NewConcurrentMap[string, map[string]string](),
		schemas:      containers.NewConcurrentMap[string, bool](),
	}, nil
}

// Prime memoizes the column catalog for every schema the configuration can
// reference, so ensureTable diffs don't hit information_schema per stream.
func (s *syncer) Prime(
	_ context.Context,
) error {

	if !s.cacheEnabled {
		return nil
	}

	for _, schema := range s.config.SchemaNames() {
		err := s.connector.NewSession(ddlTimeout, func(session database.Session) error {
			tables, err := s.readSchemaColumns(session, schema)
			if err != nil {
				return err
			}
			for table, columns := range tables {
				s.cache.Store(schema+"."+table, columns)
			}
			s.logger.Debugf("Cached %d table(s) of schema %s", len(tables), schema)
			return nil
		})
		if err != nil {
			return errors.Wrap(err, 0)
		}
	}
	return nil
}

func (s *syncer) EnsureSchema(
	_ context.Context, schema string, grants spiconfig.GrantConfig,
) error {

	if _, done := s.schemas.LoadOrStore(schema, true); done {
		return nil
	}

	return s.connector.NewSession(ddlTimeout, func(session database.Session) error {
		if err := session.Exec(
			fmt.Sprintf(queryTemplateCreateSchema, naming.Quote(schema)),
		); err != nil {
			return errors.Wrap(err, 0)
		}
		s.grantSchemaUsage(session, schema, grants)
		return nil
	})
}

func (s *syncer) EnsureTable(
	_ context.Context, spec warehouse.TableSpec,
) error {

	return s.connector.NewSession(ddlTimeout, func(session database.Session) error {
		existing, err := s.tableColumns(session, spec.Schema, spec.Table)
		if err != nil {
			return err
		}

		if len(existing) == 0 {
			return s.createTable(session, spec)
		}
		return s.alterTable(session, spec, existing)
	})
}

func (s *syncer) createTable(
	session database.Session, spec warehouse.TableSpec,
) error {

	clauses := lo.Map(spec.Columns, func(column schemamodel.Column, _ int) string {
		return naming.Quote(column.Name) + " " + column.Type.SqlType
	})
	if len(spec.PrimaryKeys) > 0 {
		quoted := lo.Map(spec.PrimaryKeys, func(key string, _ int) string {
			return naming.Quote(key)
		})
		clauses = append(clauses, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	tableName := naming.QualifiedName(spec.Schema, spec.Table)
	s.logger.Infof("Creating table %s", tableName)
	if err := session.Exec(
		fmt.Sprintf(queryTemplateCreateTable, tableName, strings.Join(clauses, ", ")),
	); err != nil {
		return errors.Wrap(err, 0)
	}

	s.grantTableSelect(session, tableName, spec.Grants)
	s.storeCachedColumns(spec)
	return nil
}

func (s *syncer) alterTable(
	session database.Session, spec warehouse.TableSpec, existing map[string]string,
) error {

	tableName := naming.QualifiedName(spec.Schema, spec.Table)

	altered := false
	for _, column := range spec.Columns {
		existingType, present := existing[column.Name]
		if !present {
			s.logger.Infof("Adding column %s %s to %s", column.Name, column.Type.SqlType, tableName)
			if err := session.Exec(fmt.Sprintf(
				queryTemplateAddColumn, tableName, naming.Quote(column.Name), column.Type.SqlType,
			)); err != nil {
				if isDuplicateColumn(err) {
					s.logger.Warnf("Column %s of %s was added concurrently", column.Name, tableName)
					continue
				}
				return errors.Wrap(err, 0)
			}
			altered = true
			continue
		}

		if equalTypes(column.Type.SqlType, existingType) {
			continue
		}

		declaredLength, declaredVarchar := schemamodel.VarcharLength(column.Type.SqlType)
		existingLength, existingVarchar := schemamodel.VarcharLength(existingType)
		if declaredVarchar && existingVarchar && declaredLength > existingLength {
			s.logger.Infof(
				"Widening column %s of %s from %d to %d",
				column.Name, tableName, existingLength, declaredLength,
			)
			if err := session.Exec(fmt.Sprintf(
				queryTemplateWidenColumn, tableName, naming.Quote(column.Name), column.Type.SqlType,
			)); err != nil {
				return errors.Wrap(err, 0)
			}
			altered = true
			continue
		}

		// Columns are never dropped or retyped beyond VARCHAR widening
		s.logger.Warnf(
			"Ignoring type change of column %s in %s: %s => %s",
			column.Name, tableName, existingType, column.Type.SqlType,
		)
	}

	if altered {
		s.storeCachedColumns(spec)
	}
	return nil
}

func (s *syncer) Load(
	ctx context.Context, req warehouse.LoadRequest,
) error {

	if len(req.Paths) == 0 {
		if req.ActivateVersion == nil {
			return nil
		}
		return s.connector.NewSession(ddlTimeout, func(session database.Session) error {
			return s.activateVersionOnly(session, req)
		})
	}

	keys, err := s.uploadBatch(ctx, req)
	if err != nil {
		return err
	}

	tempName, err := s.tempTableName(req.Spec.Table)
	if err != nil {
		return err
	}

	copyUri := s.store.URI(s.stagingKey(req.Spec.Table, req.BaseName))

	operation := func() error {
		return s.connector.NewSession(loadTimeout, func(session database.Session) error {
			return s.loadSession(session, req, tempName, copyUri)
		})
	}
	if err := backoff.Retry(
		operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries),
	); err != nil {
		s.deleteStaged(ctx, keys)
		return errors.Wrap(err, 0)
	}

	s.deleteStaged(ctx, keys)
	return nil
}

// loadSession runs one COPY-and-merge attempt on a single connection. The
// temp table is session-local, so a failed attempt leaves the target
// untouched and the temp table dies with the connection.
func (s *syncer) loadSession(
	session database.Session, req warehouse.LoadRequest, tempName, copyUri string,
) error {

	columnClauses := lo.Map(req.Spec.Columns, func(column schemamodel.Column, _ int) string {
		return naming.Quote(column.Name) + " " + column.Type.SqlType
	})
	if len(req.Spec.PrimaryKeys) > 0 {
		columnClauses = append(
			[]string{naming.Quote(loadSequenceColumn) + " BIGINT"}, columnClauses...,
		)
	}
	if err := session.Exec(fmt.Sprintf(
		queryTemplateCreateTempTable, naming.Quote(tempName), strings.Join(columnClauses, ", "),
	)); err != nil {
		return errors.Wrap(err, 0)
	}
	defer func() {
		_ = session.Exec(fmt.Sprintf(queryTemplateDropTable, naming.Quote(tempName)))
	}()

	if err := session.Exec(s.copyStatement(req, tempName, copyUri)); err != nil {
		return errors.Wrap(err, 0)
	}

	// The COPY succeeded, a merge failure must not be retried
	if err := s.merge(session, req, tempName); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

func (s *syncer) copyStatement(
	req warehouse.LoadRequest, tempName, copyUri string,
) string {

	columnNames := lo.Map(req.Spec.Columns, func(column schemamodel.Column, _ int) string {
		return naming.Quote(column.Name)
	})
	if len(req.Spec.PrimaryKeys) > 0 {
		columnNames = append([]string{naming.Quote(loadSequenceColumn)}, columnNames...)
	}

	format := "CSV"
	switch req.Compression {
	case spiconfig.CompressionGzip:
		format = "CSV GZIP"
	case spiconfig.CompressionBzip2:
		format = "CSV BZIP2"
	}

	return fmt.Sprintf(
		queryTemplateCopy,
		naming.Quote(tempName),
		strings.Join(columnNames, ", "),
		copyUri,
		s.credentialsClause(),
		format,
		s.config.CopyOptions,
	)
}

func (s *syncer) credentialsClause() string {
	if s.config.AwsRedshiftCopyRoleArn != "" {
		return fmt.Sprintf("IAM_ROLE '%s'", s.config.AwsRedshiftCopyRoleArn)
	}

	accessKeyId, secretAccessKey, sessionToken, err := s.creds()
	if err != nil {
		s.logger.Errorf("Unable to resolve COPY credentials: %v", err)
		return "CREDENTIALS ''"
	}

	clause := fmt.Sprintf(
		"CREDENTIALS 'aws_access_key_id=%s;aws_secret_access_key=%s",
		accessKeyId, secretAccessKey,
	)
	if sessionToken != "" {
		clause += ";token=" + sessionToken
	}
	return clause + "'"
}

func (s *syncer) merge(
	session database.Session, req warehouse.LoadRequest, tempName string,
) error {

	targetName := naming.QualifiedName(req.Spec.Schema, req.Spec.Table)
	temp := naming.Quote(tempName)
	columnNames := strings.Join(lo.Map(req.Spec.Columns, func(column schemamodel.Column, _ int) string {
		return naming.Quote(column.Name)
	}), ", ")

	// A version change without metadata columns swaps the full snapshot;
	// TRUNCATE commits on Redshift, so it stays outside the merge transaction
	if req.ActivateVersion != nil && !s.config.AddMetadataColumns {
		s.logger.Infof("Activating version %d of %s (truncate)", *req.ActivateVersion, targetName)
		if err := session.Exec(fmt.Sprintf(queryTemplateTruncateTable, targetName)); err != nil {
			return errors.Wrap(err, 0)
		}
	}

	if err := session.Exec("BEGIN"); err != nil {
		return errors.Wrap(err, 0)
	}

	if err := s.mergeStatements(session, req, targetName, temp, columnNames); err != nil {
		_ = session.Exec("ROLLBACK")
		return err
	}

	if err := session.Exec("COMMIT"); err != nil {
		_ = session.Exec("ROLLBACK")
		return errors.Wrap(err, 0)
	}
	return nil
}

func (s *syncer) mergeStatements(
	session database.Session, req warehouse.LoadRequest, targetName, temp, columnNames string,
) error {

	if len(req.Spec.PrimaryKeys) > 0 {
		partition := strings.Join(lo.Map(req.Spec.PrimaryKeys, func(key string, _ int) string {
			return naming.Quote(key)
		}), ", ")
		sequence := naming.Quote(loadSequenceColumn)

		if s.config.SkipUpdates {
			condition := strings.Join(lo.Map(req.Spec.PrimaryKeys, func(key string, _ int) string {
				return fmt.Sprintf(`%s.%s = "_D".%s`, targetName, naming.Quote(key), naming.Quote(key))
			}), " AND ")
			if err := session.Exec(fmt.Sprintf(
				queryTemplateInsertDedupedMissing,
				targetName, columnNames, columnNames, partition, sequence, temp, targetName, condition,
			)); err != nil {
				return errors.Wrap(err, 0)
			}
		} else {
			condition := strings.Join(lo.Map(req.Spec.PrimaryKeys, func(key string, _ int) string {
				return fmt.Sprintf("%s.%s = %s.%s", targetName, naming.Quote(key), temp, naming.Quote(key))
			}), " AND ")
			if err := session.Exec(fmt.Sprintf(
				queryTemplateDeleteMatching, targetName, temp, condition,
			)); err != nil {
				return errors.Wrap(err, 0)
			}
			if err := session.Exec(fmt.Sprintf(
				queryTemplateInsertDeduped,
				targetName, columnNames, columnNames, partition, sequence, temp,
			)); err != nil {
				return errors.Wrap(err, 0)
			}
		}
	} else {
		if err := session.Exec(fmt.Sprintf(
			queryTemplateInsertAll, targetName, columnNames, columnNames, temp,
		)); err != nil {
			return errors.Wrap(err, 0)
		}
	}

	if s.config.HardDelete {
		if err := session.Exec(fmt.Sprintf(
			queryTemplateHardDelete, targetName, naming.Quote(schemamodel.MetadataDeletedAt),
		)); err != nil {
			return errors.Wrap(err, 0)
		}
	}

	if req.ActivateVersion != nil && s.config.AddMetadataColumns {
		s.logger.Infof("Activating version %d of %s (filter)", *req.ActivateVersion, targetName)
		versionColumn := naming.Quote(schemamodel.MetadataTableVersion)
		if err := session.Exec(fmt.Sprintf(
			queryTemplateDeleteOldVersions, targetName, versionColumn, versionColumn, *req.ActivateVersion,
		)); err != nil {
			return errors.Wrap(err, 0)
		}
	}
	return nil
}

// activateVersionOnly applies a version change that arrived without any
// staged rows.
func (s *syncer) activateVersionOnly(
	session database.Session, req warehouse.LoadRequest,
) error {

	targetName := naming.QualifiedName(req.Spec.Schema, req.Spec.Table)
	if !s.config.AddMetadataColumns {
		s.logger.Infof("Activating version %d of %s (truncate)", *req.ActivateVersion, targetName)
		if err := session.Exec(fmt.Sprintf(queryTemplateTruncateTable, targetName)); err != nil {
			return errors.Wrap(err, 0)
		}
		return nil
	}

	s.logger.Infof("Activating version %d of %s (filter)", *req.ActivateVersion, targetName)
	versionColumn := naming.Quote(schemamodel.MetadataTableVersion)
	if err := session.Exec(fmt.Sprintf(
		queryTemplateDeleteOldVersions, targetName, versionColumn, versionColumn, *req.ActivateVersion,
	)); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (s *syncer) uploadBatch(
	ctx context.Context, req warehouse.LoadRequest,
) ([]string, error) {

	keys := make([]string, 0, len(req.Paths))
	for _, stagePath := range req.Paths {
		key := path.Join(s.stagingKey(req.Spec.Table, ""), filepath.Base(stagePath))

		operation := func() error {
			file, err := os.Open(stagePath)
			if err != nil {
				return backoff.Permanent(errors.Wrap(err, 0))
			}
			defer file.Close()
			return s.store.Upload(ctx, key, file)
		}
		if err := backoff.Retry(
			operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries),
		); err != nil {
			s.deleteStaged(ctx, keys)
			return nil, errors.Wrap(err, 0)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *syncer) deleteStaged(
	ctx context.Context, keys []string,
) {

	if err := s.store.Delete(ctx, keys); err != nil {
		s.logger.Warnf("Unable to delete staged object(s) %v: %v", keys, err)
	}
}

func (s *syncer) stagingKey(
	table, baseName string,
) string {

	return path.Join(s.config.S3KeyPrefix, table, baseName)
}

func (s *syncer) tempTableName(
	table string,
) (string, error) {

	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return fmt.Sprintf("%s_temp_%s", table, id[:8]), nil
}

// tableColumns resolves the current column set of a table, from the catalog
// cache when enabled, falling back to information_schema.
func (s *syncer) tableColumns(
	session database.Session, schema, table string,
) (map[string]string, error) {

	if s.cacheEnabled {
		if columns, present := s.cache.Load(schema + "." + table); present {
			return columns, nil
		}
	}

	columns := make(map[string]string)
	err := session.QueryFunc(func(row database.Row) error {
		var tableName, columnName, dataType string
		var charMax, numPrecision, numScale int
		if err := row.Scan(
			&tableName, &columnName, &dataType, &charMax, &numPrecision, &numScale,
		); err != nil {
			return err
		}
		columns[columnName] = canonicalType(dataType, charMax, numPrecision, numScale)
		return nil
	}, querySingleTableColumns, schema, table)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	if s.cacheEnabled && len(columns) > 0 {
		s.cache.Store(schema+"."+table, columns)
	}
	return columns, nil
}

func (s *syncer) readSchemaColumns(
	session database.Session, schema string,
) (map[string]map[string]string, error) {

	tables := make(map[string]map[string]string)
	err := session.QueryFunc(func(row database.Row) error {
		var tableName, columnName, dataType string
		var charMax, numPrecision, numScale int
		if err := row.Scan(
			&tableName, &columnName, &dataType, &charMax, &numPrecision, &numScale,
		); err != nil {
			return err
		}
		if tables[tableName] == nil {
			tables[tableName] = make(map[string]string)
		}
		tables[tableName][columnName] = canonicalType(dataType, charMax, numPrecision, numScale)
		return nil
	}, queryTableColumns, schema)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return tables, nil
}

// storeCachedColumns refreshes the cache entry from the declared spec after
// a CREATE or ALTER.
func (s *syncer) storeCachedColumns(
	spec warehouse.TableSpec,
) {

	if !s.cacheEnabled {
		return
	}
	columns := make(map[string]string, len(spec.Columns))
	for _, column := range spec.Columns {
		columns[column.Name] = strings.ToUpper(column.Type.SqlType)
	}
	s.cache.Store(spec.Schema+"."+spec.Table, columns)
}

func (s *syncer) grantSchemaUsage(
	session database.Session, schema string, grants spiconfig.GrantConfig,
) {

	for _, user := range grants.Users {
		if err := session.Exec(fmt.Sprintf(
			queryTemplateGrantSchemaUsageUser, naming.Quote(schema), naming.Quote(user),
		)); err != nil {
			s.logger.Warnf("Unable to grant usage on schema %s to user %s: %v", schema, user, err)
		}
	}
	for _, group := range grants.Groups {
		if err := session.Exec(fmt.Sprintf(
			queryTemplateGrantSchemaUsageGroup, naming.Quote(schema), naming.Quote(group),
		)); err != nil {
			s.logger.Warnf("Unable to grant usage on schema %s to group %s: %v", schema, group, err)
		}
	}
}

func (s *syncer) grantTableSelect(
	session database.Session, tableName string, grants spiconfig.GrantConfig,
) {

	for _, user := range grants.Users {
		if err := session.Exec(fmt.Sprintf(
			queryTemplateGrantTableSelectUser, tableName, naming.Quote(user),
		)); err != nil {
			s.logger.Warnf("Unable to grant select on %s to user %s: %v", tableName, user, err)
		}
	}
	for _, group := range grants.Groups {
		if err := session.Exec(fmt.Sprintf(
			queryTemplateGrantTableSelectGroup, tableName, naming.Quote(group),
		)); err != nil {
			s.logger.Warnf("Unable to grant select on %s to group %s: %v", tableName, group, err)
		}
	}
}

// canonicalType normalizes information_schema type descriptions to the
// declared type strings, so diffs compare like for like.
func canonicalType(
	dataType string, charMax, numPrecision, numScale int,
) string {

	switch strings.ToLower(dataType) {
	case "character varying":
		if charMax > 0 {
			return fmt.Sprintf("CHARACTER VARYING(%d)", charMax)
		}
		return "CHARACTER VARYING"
	case "numeric":
		return fmt.Sprintf("NUMERIC(%d,%d)", numPrecision, numScale)
	case "double precision", "real":
		return "FLOAT"
	default:
		return strings.ToUpper(dataType)
	}
}

func equalTypes(
	declared, existing string,
) bool {

	return strings.EqualFold(strings.TrimSpace(declared), strings.TrimSpace(existing))
}
