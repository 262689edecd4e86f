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

package config

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig() *Config {
	return &Config{
		Host:                "dummy-value",
		Port:                5439,
		User:                "dummy-value",
		Password:            "dummy-value",
		DbName:              "dummy-value",
		AwsAccessKeyId:      "dummy-value",
		AwsSecretAccessKey:  "dummy-value",
		S3Bucket:            "dummy-value",
		DefaultTargetSchema: "dummy-value",
	}
}

func TestValidate(t *testing.T) {
	empty := &Config{}
	empty.ApplyDefaults()
	assert.NotEmpty(t, empty.Validate())

	minimal := minimalConfig()
	minimal.ApplyDefaults()
	assert.Empty(t, minimal.Validate())

	// Schema references are required in one form or the other
	noSchema := minimalConfig()
	noSchema.DefaultTargetSchema = ""
	noSchema.ApplyDefaults()
	assert.NotEmpty(t, noSchema.Validate())

	mapped := minimalConfig()
	mapped.DefaultTargetSchema = ""
	mapped.SchemaMapping = map[string]SchemaMappingConfig{
		"dummy_stream": {TargetSchema: "dummy_schema"},
	}
	mapped.ApplyDefaults()
	assert.Empty(t, mapped.Validate())

	badCompression := minimalConfig()
	badCompression.Compression = "zip"
	badCompression.ApplyDefaults()
	assert.NotEmpty(t, badCompression.Validate())

	badBatchBytes := minimalConfig()
	badBatchBytes.BatchSizeBytes = "a lot"
	badBatchBytes.ApplyDefaults()
	assert.NotEmpty(t, badBatchBytes.Validate())
}

func TestApplyDefaults(t *testing.T) {
	config := &Config{}
	config.ApplyDefaults()

	assert.Equal(t, 5439, config.Port)
	assert.Equal(t, DefaultBatchSizeRows, config.BatchSizeRows)
	assert.Equal(t, DefaultMaxParallelism, config.MaxParallelism)
	assert.Equal(t, 1, config.Slices)
	assert.Equal(t, DefaultCopyOptions, config.CopyOptions)
	assert.Equal(t, DefaultVarcharLength, config.VarcharLength)
	assert.NotEmpty(t, config.TempDir)
}

func TestApplyDefaults_HardDeleteImpliesMetadataColumns(t *testing.T) {
	config := &Config{HardDelete: true}
	config.ApplyDefaults()
	assert.True(t, config.AddMetadataColumns)
}

func TestBatchMaxBytes(t *testing.T) {
	config := &Config{}
	size, err := config.BatchMaxBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	config.BatchSizeBytes = "512MB"
	size, err = config.BatchMaxBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), size)

	config.BatchSizeBytes = "nonsense"
	_, err = config.BatchMaxBytes()
	require.Error(t, err)
}

func TestTargetSchema(t *testing.T) {
	config := &Config{
		DefaultTargetSchema: "analytics",
		DefaultTargetSchemaSelectPermissions: GrantConfig{
			Users: []string{"default_reader"},
		},
		SchemaMapping: map[string]SchemaMappingConfig{
			"public": {
				TargetSchema:                  "repl_public",
				TargetSchemaSelectPermissions: GrantConfig{Groups: []string{"analysts"}},
			},
		},
	}

	schema, grants := config.TargetSchema("public")
	assert.Equal(t, "repl_public", schema)
	assert.Equal(t, []string{"analysts"}, grants.Groups)

	schema, grants = config.TargetSchema("other")
	assert.Equal(t, "analytics", schema)
	assert.Equal(t, []string{"default_reader"}, grants.Users)
}

func TestSchemaNames(t *testing.T) {
	config := &Config{
		DefaultTargetSchema: "analytics",
		SchemaMapping: map[string]SchemaMappingConfig{
			"a": {TargetSchema: "schema_a"},
			"b": {TargetSchema: "schema_b"},
			"c": {TargetSchema: "analytics"},
		},
	}

	names := config.SchemaNames()
	assert.ElementsMatch(t, []string{"analytics", "schema_a", "schema_b"}, names)
}

func TestEffectiveParallelism(t *testing.T) {
	config := &Config{MaxParallelism: 16}

	// Zero follows the number of active streams
	config.Parallelism = 0
	assert.Equal(t, 3, config.EffectiveParallelism(3))
	assert.Equal(t, 1, config.EffectiveParallelism(0))

	// Negative resolves to the CPU count
	config.Parallelism = -1
	assert.Equal(t, min(runtime.NumCPU(), 16), config.EffectiveParallelism(1))

	// Positive is taken as-is, capped by max_parallelism
	config.Parallelism = 4
	assert.Equal(t, 4, config.EffectiveParallelism(100))
	config.Parallelism = 64
	assert.Equal(t, 16, config.EffectiveParallelism(100))
}

func TestPrimaryKeysRequired(t *testing.T) {
	config := &Config{}
	assert.True(t, config.PrimaryKeysRequired())

	disabled := false
	config.PrimaryKeyRequired = &disabled
	assert.False(t, config.PrimaryKeysRequired())
}

func TestUnmarshall(t *testing.T) {
	jsonContent := []byte(`{
		"host": "redshift.example.com",
		"port": 5439,
		"batch_size_rows": 50000,
		"schema_mapping": {"public": {"target_schema": "repl_public"}},
		"hard_delete": true
	}`)

	config := &Config{}
	require.NoError(t, Unmarshall(jsonContent, config, false))
	assert.Equal(t, "redshift.example.com", config.Host)
	assert.Equal(t, 50000, config.BatchSizeRows)
	assert.Equal(t, "repl_public", config.SchemaMapping["public"].TargetSchema)
	assert.True(t, config.HardDelete)

	yamlContent := []byte("host: redshift.example.com\nbatch_size_rows: 1000\n")
	config = &Config{}
	require.NoError(t, Unmarshall(yamlContent, config, true))
	assert.Equal(t, "redshift.example.com", config.Host)
	assert.Equal(t, 1000, config.BatchSizeRows)
}
