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

package streams

import (
	"testing"

	"github.com/rhodium-data/target-redshift/internal/supporting"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/protocol"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *spiconfig.Config {
	config := &spiconfig.Config{
		DefaultTargetSchema: "analytics",
		TempDir:             t.TempDir(),
		BatchSizeRows:       2,
		PrimaryKeyRequired:  supporting.AddrOf(false),
	}
	config.ApplyDefaults()
	return config
}

func newTestRegistry(t *testing.T, config *spiconfig.Config) *Registry {
	registry, err := NewRegistry(config, config.TempDir)
	require.NoError(t, err)
	return registry
}

func schemaMessage(stream string, keys ...string) *protocol.Message {
	return &protocol.Message{
		Type:   protocol.SchemaMessage,
		Stream: stream,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": []any{"integer"}},
				"name": map[string]any{"type": []any{"null", "string"}},
			},
		},
		KeyProperties: &keys,
	}
}

func recordMessage(stream string, record map[string]any) *protocol.Message {
	return &protocol.Message{
		Type:   protocol.RecordMessage,
		Stream: stream,
		Record: record,
	}
}

func TestOnSchema_CreatesStream(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	stream, needFlush, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)
	assert.False(t, needFlush)

	assert.Equal(t, "public-order", stream.Name)
	assert.Equal(t, "analytics", stream.TargetSchema)
	assert.Equal(t, "ORDER", stream.TableName)

	spec := stream.Spec()
	assert.Equal(t, []string{"ID"}, spec.PrimaryKeys)
	assert.Equal(t, "ID", spec.Columns[0].Name)
	assert.Equal(t, "NAME", spec.Columns[1].Name)
}

func TestOnSchema_SchemaMapping(t *testing.T) {
	config := testConfig(t)
	config.SchemaMapping = map[string]spiconfig.SchemaMappingConfig{
		"public": {
			TargetSchema:                  "repl_public",
			TargetSchemaSelectPermissions: spiconfig.GrantConfig{Users: []string{"reader"}},
		},
	}
	registry := newTestRegistry(t, config)

	stream, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)
	assert.Equal(t, "repl_public", stream.TargetSchema)
	assert.Equal(t, []string{"reader"}, stream.Grants.Users)
}

func TestOnSchema_PrimaryKeyRequired(t *testing.T) {
	config := testConfig(t)
	config.PrimaryKeyRequired = nil // defaults to true
	registry := newTestRegistry(t, config)

	_, _, err := registry.OnSchema(schemaMessage("public-order"))
	require.Error(t, err)

	schemaErr := &schemamodel.SchemaError{}
	assert.ErrorAs(t, err, &schemaErr)
}

func TestOnRecord_BeforeSchemaFails(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	_, _, err := registry.OnRecord(recordMessage("unknown", map[string]any{"id": float64(1)}), 1)
	require.Error(t, err)

	protocolErr := &protocol.ProtocolError{}
	assert.ErrorAs(t, err, &protocolErr)
}

func TestOnRecord_BatchFullPredicate(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	_, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)

	_, full, err := registry.OnRecord(recordMessage("public-order", map[string]any{"id": float64(1)}), 1)
	require.NoError(t, err)
	assert.False(t, full)

	stream, full, err := registry.OnRecord(recordMessage("public-order", map[string]any{"id": float64(2)}), 2)
	require.NoError(t, err)
	assert.True(t, full)
	assert.Equal(t, int64(2), stream.PendingRows())
}

func TestSealBatch_RotatesWriter(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	stream, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)

	_, _, err = registry.OnRecord(recordMessage("public-order", map[string]any{"id": float64(1)}), 1)
	require.NoError(t, err)

	batch, snapshot, err := registry.SealBatch(stream)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, int64(1), batch.Rows)
	assert.Nil(t, snapshot.ActivateVersion)
	assert.Equal(t, "ORDER", snapshot.Spec.Table)

	// Ingestion continues on a fresh writer
	assert.Equal(t, int64(0), stream.PendingRows())
	_, _, err = registry.OnRecord(recordMessage("public-order", map[string]any{"id": float64(2)}), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stream.PendingRows())
}

func TestSealBatch_EmptyBatch(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	stream, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)

	batch, snapshot, err := registry.SealBatch(stream)
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Nil(t, snapshot.ActivateVersion)
}

func TestOnActivateVersion_CapturedAtSeal(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	stream, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)

	version := int64(7)
	_, err = registry.OnActivateVersion(&protocol.Message{
		Type:    protocol.ActivateVersionMessage,
		Stream:  "public-order",
		Version: &version,
	})
	require.NoError(t, err)

	_, snapshot, err := registry.SealBatch(stream)
	require.NoError(t, err)
	require.NotNil(t, snapshot.ActivateVersion)
	assert.Equal(t, int64(7), *snapshot.ActivateVersion)

	// Applied once, not with every later flush
	_, snapshot, err = registry.SealBatch(stream)
	require.NoError(t, err)
	assert.Nil(t, snapshot.ActivateVersion)
}

func TestOnSchema_ChangeWithPendingRowsNeedsFlush(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	_, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)
	_, _, err = registry.OnRecord(recordMessage("public-order", map[string]any{"id": float64(1)}), 1)
	require.NoError(t, err)

	changed := schemaMessage("public-order", "id")
	changed.Schema["properties"].(map[string]any)["extra"] = map[string]any{"type": []any{"null", "string"}}

	stream, needFlush, err := registry.OnSchema(changed)
	require.NoError(t, err)
	assert.True(t, needFlush)

	// The caller flushes, then applies the new column set
	batch, _, err := registry.SealBatch(stream)
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.NoError(t, registry.ApplySchema(stream, changed))

	spec := stream.Spec()
	assert.Len(t, spec.Columns, 3)
}

func TestOnSchema_ChangeWithoutPendingRowsSwapsInPlace(t *testing.T) {
	registry := newTestRegistry(t, testConfig(t))

	_, _, err := registry.OnSchema(schemaMessage("public-order", "id"))
	require.NoError(t, err)

	changed := schemaMessage("public-order", "id")
	changed.Schema["properties"].(map[string]any)["extra"] = map[string]any{"type": []any{"null", "string"}}

	stream, needFlush, err := registry.OnSchema(changed)
	require.NoError(t, err)
	assert.False(t, needFlush)
	assert.Len(t, stream.Spec().Columns, 3)
}
