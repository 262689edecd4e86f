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
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/database"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
	"github.com/rhodium-data/target-redshift/spi/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// region Test Doubles

type fakeRow struct {
	values []any
}

func (r *fakeRow) Scan(dest ...any) error {
	for i, value := range r.values {
		switch typed := dest[i].(type) {
		case *string:
			*typed = value.(string)
		case *int:
			*typed = value.(int)
		case *int64:
			*typed = value.(int64)
		default:
			return fmt.Errorf("unsupported scan target %T", dest[i])
		}
	}
	return nil
}

type fakeSession struct {
	mutex      sync.Mutex
	executed   []string
	queries    int
	columnRows [][]any
	execErrors map[string]error
}

func (s *fakeSession) QueryFunc(
	fn func(row database.Row) error, query string, args ...any,
) error {

	s.mutex.Lock()
	s.queries++
	s.mutex.Unlock()

	for _, values := range s.columnRows {
		if err := fn(&fakeRow{values: values}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) QueryRow(query string, args ...any) database.Row {
	return &fakeRow{}
}

func (s *fakeSession) Exec(query string, args ...any) error {
	s.mutex.Lock()
	s.executed = append(s.executed, query)
	s.mutex.Unlock()

	for fragment, err := range s.execErrors {
		if strings.Contains(query, fragment) {
			return err
		}
	}
	return nil
}

func (s *fakeSession) statements() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string{}, s.executed...)
}

type fakeConnector struct {
	session *fakeSession
}

func (c *fakeConnector) NewSession(
	_ time.Duration, fn func(session database.Session) error,
) error {

	return fn(c.session)
}

type fakeStore struct {
	mutex    sync.Mutex
	uploaded []string
	deleted  []string
}

func (s *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.uploaded = append(s.uploaded, key)
	return nil
}

func (s *fakeStore) Delete(_ context.Context, keys []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.deleted = append(s.deleted, keys...)
	return nil
}

func (s *fakeStore) URI(key string) string {
	return "s3://test-bucket/" + key
}

// endregion

func testConfig() *spiconfig.Config {
	config := &spiconfig.Config{
		Host:                "localhost",
		User:                "test",
		Password:            "test",
		DbName:              "test",
		S3Bucket:            "test-bucket",
		AwsAccessKeyId:      "AKIATEST",
		AwsSecretAccessKey:  "secret",
		DefaultTargetSchema: "analytics",
	}
	config.ApplyDefaults()
	return config
}

func newTestSyncer(
	t *testing.T, config *spiconfig.Config, session *fakeSession, store *fakeStore,
) warehouse.Syncer {

	syncer, err := NewSyncer(config, &fakeConnector{session: session}, store,
		func() (string, string, string, error) {
			return config.AwsAccessKeyId, config.AwsSecretAccessKey, config.AwsSessionToken, nil
		},
	)
	require.NoError(t, err)
	return syncer
}

func testSpec() warehouse.TableSpec {
	return warehouse.TableSpec{
		Schema: "analytics",
		Table:  "ORDERS",
		Columns: []schemamodel.Column{
			{Name: "ID", Type: schemamodel.ColumnType{Kind: schemamodel.KindInteger, SqlType: "NUMERIC(38,0)"}},
			{Name: "NAME", Type: schemamodel.ColumnType{Kind: schemamodel.KindString, SqlType: "CHARACTER VARYING(10000)"}},
		},
		PrimaryKeys: []string{"ID"},
	}
}

func stageFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "ORDERS_test-uuid.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEnsureTable_CreatesTableWithPrimaryKey(t *testing.T) {
	session := &fakeSession{}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))

	statements := session.statements()
	require.Len(t, statements, 1)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "analytics"."ORDERS" `+
			`("ID" NUMERIC(38,0), "NAME" CHARACTER VARYING(10000), PRIMARY KEY ("ID"))`,
		statements[0],
	)
}

func TestEnsureTable_QuotesReservedIdentifiers(t *testing.T) {
	session := &fakeSession{}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	spec := warehouse.TableSpec{
		Schema: "analytics",
		Table:  "ORDER",
		Columns: []schemamodel.Column{
			{Name: "SELECT", Type: schemamodel.ColumnType{SqlType: "CHARACTER VARYING(10000)"}},
		},
	}
	require.NoError(t, syncer.EnsureTable(context.Background(), spec))

	statements := session.statements()
	require.Len(t, statements, 1)
	assert.Contains(t, statements[0], `"ORDER"`)
	assert.Contains(t, statements[0], `"SELECT" CHARACTER VARYING(10000)`)
}

func TestEnsureTable_AddsMissingColumns(t *testing.T) {
	session := &fakeSession{
		columnRows: [][]any{
			{"ORDERS", "ID", "numeric", 0, 38, 0},
		},
	}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))

	statements := session.statements()
	require.Len(t, statements, 1)
	assert.Equal(t,
		`ALTER TABLE "analytics"."ORDERS" ADD COLUMN "NAME" CHARACTER VARYING(10000)`,
		statements[0],
	)
}

func TestEnsureTable_WidensVarcharColumns(t *testing.T) {
	session := &fakeSession{
		columnRows: [][]any{
			{"ORDERS", "ID", "numeric", 0, 38, 0},
			{"ORDERS", "NAME", "character varying", 256, 0, 0},
		},
	}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))

	statements := session.statements()
	require.Len(t, statements, 1)
	assert.Equal(t,
		`ALTER TABLE "analytics"."ORDERS" ALTER COLUMN "NAME" TYPE CHARACTER VARYING(10000)`,
		statements[0],
	)
}

func TestEnsureTable_IgnoresIncompatibleRetype(t *testing.T) {
	session := &fakeSession{
		columnRows: [][]any{
			{"ORDERS", "ID", "boolean", 0, 0, 0},
			{"ORDERS", "NAME", "character varying", 10000, 0, 0},
		},
	}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))
	assert.Empty(t, session.statements())
}

func TestEnsureTable_SecondCallUsesCache(t *testing.T) {
	session := &fakeSession{}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))
	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))

	// The CREATE primed the cache, the second call diffs without queries
	assert.Equal(t, 1, session.queries)
	assert.Len(t, session.statements(), 1)
}

func TestEnsureTable_DisabledCacheAlwaysIntrospects(t *testing.T) {
	config := testConfig()
	config.DisableTableCache = true

	session := &fakeSession{
		columnRows: [][]any{
			{"ORDERS", "ID", "numeric", 0, 38, 0},
			{"ORDERS", "NAME", "character varying", 10000, 0, 0},
		},
	}
	syncer := newTestSyncer(t, config, session, &fakeStore{})

	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))
	require.NoError(t, syncer.EnsureTable(context.Background(), testSpec()))
	assert.Equal(t, 2, session.queries)
}

func TestEnsureSchema_CreatesOnceAndGrants(t *testing.T) {
	session := &fakeSession{}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	grants := spiconfig.GrantConfig{Users: []string{"reporting"}, Groups: []string{"analysts"}}
	require.NoError(t, syncer.EnsureSchema(context.Background(), "analytics", grants))
	require.NoError(t, syncer.EnsureSchema(context.Background(), "analytics", grants))

	statements := session.statements()
	require.Len(t, statements, 3)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "analytics"`, statements[0])
	assert.Equal(t, `GRANT USAGE ON SCHEMA "analytics" TO "reporting"`, statements[1])
	assert.Equal(t, `GRANT USAGE ON SCHEMA "analytics" TO GROUP "analysts"`, statements[2])
}

func TestLoad_MergeWithPrimaryKey(t *testing.T) {
	session := &fakeSession{}
	store := &fakeStore{}
	syncer := newTestSyncer(t, testConfig(), session, store)

	path := stageFile(t, "1,a\n2,b\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:     testSpec(),
		Paths:    []string{path},
		BaseName: "ORDERS_test-uuid",
		Rows:     2,
	}))

	statements := session.statements()
	require.Len(t, statements, 7)
	assert.Contains(t, statements[0], `CREATE TEMP TABLE "ORDERS_temp_`)
	assert.Contains(t, statements[0], `"_LOAD_SEQUENCE" BIGINT, "ID" NUMERIC(38,0)`)
	assert.Contains(t, statements[1], `COPY "ORDERS_temp_`)
	assert.Contains(t, statements[1], `("_LOAD_SEQUENCE", "ID", "NAME")`)
	assert.Contains(t, statements[1], `FROM 's3://test-bucket/ORDERS/ORDERS_test-uuid'`)
	assert.Equal(t, "BEGIN", statements[2])
	assert.Contains(t, statements[3], `DELETE FROM "analytics"."ORDERS" USING "ORDERS_temp_`)
	assert.Contains(t, statements[3], `"analytics"."ORDERS"."ID" = "ORDERS_temp_`)
	assert.Contains(t, statements[4], `INSERT INTO "analytics"."ORDERS" ("ID", "NAME") SELECT "ID", "NAME" FROM `)
	assert.Contains(t, statements[4], `ROW_NUMBER() OVER (PARTITION BY "ID" ORDER BY "_LOAD_SEQUENCE" DESC)`)
	assert.Contains(t, statements[4], `WHERE "_RN" = 1`)
	assert.Equal(t, "COMMIT", statements[5])
	assert.Contains(t, statements[6], `DROP TABLE IF EXISTS "ORDERS_temp_`)

	assert.Equal(t, []string{"ORDERS/ORDERS_test-uuid.csv"}, store.uploaded)
	assert.Equal(t, []string{"ORDERS/ORDERS_test-uuid.csv"}, store.deleted)
}

func TestLoad_SkipUpdates(t *testing.T) {
	config := testConfig()
	config.SkipUpdates = true

	session := &fakeSession{}
	syncer := newTestSyncer(t, config, session, &fakeStore{})

	path := stageFile(t, "1,a\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:     testSpec(),
		Paths:    []string{path},
		BaseName: "ORDERS_test-uuid",
		Rows:     1,
	}))

	statements := strings.Join(session.statements(), "\n")
	assert.NotContains(t, statements, "DELETE FROM")
	assert.Contains(t, statements, `WHERE "_RN" = 1 AND NOT EXISTS (SELECT 1 FROM "analytics"."ORDERS" WHERE`)
}

func TestLoad_NoPrimaryKeyPlainInsert(t *testing.T) {
	session := &fakeSession{}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	spec := testSpec()
	spec.PrimaryKeys = nil

	path := stageFile(t, "1,a\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:     spec,
		Paths:    []string{path},
		BaseName: "ORDERS_test-uuid",
		Rows:     1,
	}))

	statements := strings.Join(session.statements(), "\n")
	assert.NotContains(t, statements, "DELETE FROM")
	assert.NotContains(t, statements, "NOT EXISTS")
	assert.Contains(t, statements, `INSERT INTO "analytics"."ORDERS" ("ID", "NAME") SELECT "ID", "NAME" FROM`)
}

func TestLoad_HardDelete(t *testing.T) {
	config := testConfig()
	config.HardDelete = true
	config.ApplyDefaults()

	session := &fakeSession{}
	syncer := newTestSyncer(t, config, session, &fakeStore{})

	path := stageFile(t, "1,a\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:     testSpec(),
		Paths:    []string{path},
		BaseName: "ORDERS_test-uuid",
		Rows:     1,
	}))

	statements := strings.Join(session.statements(), "\n")
	assert.Contains(t, statements,
		`DELETE FROM "analytics"."ORDERS" WHERE "_SDC_DELETED_AT" IS NOT NULL`,
	)
}

func TestLoad_CopyStatement(t *testing.T) {
	config := testConfig()
	config.Compression = spiconfig.CompressionGzip

	session := &fakeSession{}
	syncer := newTestSyncer(t, config, session, &fakeStore{})

	path := stageFile(t, "1,a\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:        testSpec(),
		Paths:       []string{path},
		BaseName:    "ORDERS_test-uuid",
		Rows:        1,
		Compression: spiconfig.CompressionGzip,
	}))

	var copyStatement string
	for _, statement := range session.statements() {
		if strings.HasPrefix(statement, "COPY ") {
			copyStatement = statement
		}
	}
	require.NotEmpty(t, copyStatement)

	assert.Contains(t, copyStatement, `("_LOAD_SEQUENCE", "ID", "NAME")`)
	assert.Contains(t, copyStatement, "CREDENTIALS 'aws_access_key_id=AKIATEST;aws_secret_access_key=secret'")
	assert.Contains(t, copyStatement, "CSV GZIP DELIMITER ',' REMOVEQUOTES ESCAPE")
	assert.Contains(t, copyStatement, spiconfig.DefaultCopyOptions)
}

func TestLoad_CopyStatementWithRoleArn(t *testing.T) {
	config := testConfig()
	config.AwsRedshiftCopyRoleArn = "arn:aws:iam::123456789012:role/redshift-copy"

	session := &fakeSession{}
	syncer := newTestSyncer(t, config, session, &fakeStore{})

	path := stageFile(t, "1,a\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:     testSpec(),
		Paths:    []string{path},
		BaseName: "ORDERS_test-uuid",
		Rows:     1,
	}))

	statements := strings.Join(session.statements(), "\n")
	assert.Contains(t, statements, "IAM_ROLE 'arn:aws:iam::123456789012:role/redshift-copy'")
	assert.NotContains(t, statements, "CREDENTIALS")
}

func TestLoad_MergeFailureRollsBackAndDoesNotRetry(t *testing.T) {
	session := &fakeSession{
		execErrors: map[string]error{
			"INSERT INTO": fmt.Errorf("merge failed"),
		},
	}
	store := &fakeStore{}
	syncer := newTestSyncer(t, testConfig(), session, store)

	path := stageFile(t, "1,a\n")
	err := syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:     testSpec(),
		Paths:    []string{path},
		BaseName: "ORDERS_test-uuid",
		Rows:     1,
	})
	require.Error(t, err)

	statements := session.statements()
	assert.Contains(t, strings.Join(statements, "\n"), "ROLLBACK")

	// A merge failure is permanent, the COPY must not have been re-run
	copies := 0
	for _, statement := range statements {
		if strings.HasPrefix(statement, "COPY ") {
			copies++
		}
	}
	assert.Equal(t, 1, copies)
}

func TestLoad_ActivateVersionWithoutRows(t *testing.T) {
	session := &fakeSession{}
	syncer := newTestSyncer(t, testConfig(), session, &fakeStore{})

	version := int64(3)
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:            testSpec(),
		ActivateVersion: &version,
	}))

	statements := session.statements()
	require.Len(t, statements, 1)
	assert.Equal(t, `TRUNCATE "analytics"."ORDERS"`, statements[0])
}

func TestLoad_ActivateVersionWithMetadataColumns(t *testing.T) {
	config := testConfig()
	config.AddMetadataColumns = true

	session := &fakeSession{}
	syncer := newTestSyncer(t, config, session, &fakeStore{})

	version := int64(3)
	path := stageFile(t, "1,a\n")
	require.NoError(t, syncer.Load(context.Background(), warehouse.LoadRequest{
		Spec:            testSpec(),
		Paths:           []string{path},
		BaseName:        "ORDERS_test-uuid",
		Rows:            1,
		ActivateVersion: &version,
	}))

	statements := strings.Join(session.statements(), "\n")
	assert.NotContains(t, statements, "TRUNCATE")
	assert.Contains(t, statements,
		`DELETE FROM "analytics"."ORDERS" WHERE "_SDC_TABLE_VERSION" IS NOT NULL AND "_SDC_TABLE_VERSION" < 3`,
	)
}

func TestCanonicalType(t *testing.T) {
	testCases := []struct {
		dataType  string
		charMax   int
		precision int
		scale     int
		expected  string
	}{
		{"character varying", 10000, 0, 0, "CHARACTER VARYING(10000)"},
		{"character varying", 0, 0, 0, "CHARACTER VARYING"},
		{"numeric", 0, 38, 0, "NUMERIC(38,0)"},
		{"double precision", 0, 0, 0, "FLOAT"},
		{"real", 0, 0, 0, "FLOAT"},
		{"timestamp without time zone", 0, 0, 0, "TIMESTAMP WITHOUT TIME ZONE"},
		{"super", 0, 0, 0, "SUPER"},
		{"boolean", 0, 0, 0, "BOOLEAN"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.dataType, func(t *testing.T) {
			assert.Equal(t, testCase.expected, canonicalType(
				testCase.dataType, testCase.charMax, testCase.precision, testCase.scale,
			))
		})
	}
}
