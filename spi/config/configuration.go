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
	"os"
	"runtime"

	"github.com/go-errors/errors"
	"github.com/inhies/go-bytesize"
	"github.com/samber/lo"
)

type CompressionType string

const (
	CompressionNone  CompressionType = ""
	CompressionGzip  CompressionType = "gzip"
	CompressionBzip2 CompressionType = "bzip2"
)

type GrantConfig struct {
	Users  []string `json:"users" yaml:"users"`
	Groups []string `json:"groups" yaml:"groups"`
}

func (g GrantConfig) Empty() bool {
	return len(g.Users) == 0 && len(g.Groups) == 0
}

type SchemaMappingConfig struct {
	TargetSchema                  string      `json:"target_schema" yaml:"target_schema"`
	TargetSchemaSelectPermissions GrantConfig `json:"target_schema_select_permissions" yaml:"target_schema_select_permissions"`
}

type LoggerFileConfig struct {
	Enabled  *bool  `json:"enabled" yaml:"enabled"`
	Path     string `json:"path" yaml:"path"`
	Compress bool   `json:"compress" yaml:"compress"`
}

type LoggerConsoleConfig struct {
	Enabled *bool `json:"enabled" yaml:"enabled"`
}

type LoggerOutputConfig struct {
	Console LoggerConsoleConfig `json:"console" yaml:"console"`
	File    LoggerFileConfig    `json:"file" yaml:"file"`
}

type SubLoggerConfig struct {
	Level   *string            `json:"level" yaml:"level"`
	Outputs LoggerOutputConfig `json:"outputs" yaml:"outputs"`
}

type LoggerConfig struct {
	Level   string                     `json:"level" yaml:"level"`
	Outputs LoggerOutputConfig         `json:"outputs" yaml:"outputs"`
	Loggers map[string]SubLoggerConfig `json:"loggers" yaml:"loggers"`
}

// Config carries the flat singer-style option keys plus the nested logging
// and stats sections.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DbName   string `json:"dbname" yaml:"dbname"`

	AwsProfile             string `json:"aws_profile" yaml:"aws_profile"`
	AwsAccessKeyId         string `json:"aws_access_key_id" yaml:"aws_access_key_id"`
	AwsSecretAccessKey     string `json:"aws_secret_access_key" yaml:"aws_secret_access_key"`
	AwsSessionToken        string `json:"aws_session_token" yaml:"aws_session_token"`
	AwsRedshiftCopyRoleArn string `json:"aws_redshift_copy_role_arn" yaml:"aws_redshift_copy_role_arn"`

	S3Bucket    string `json:"s3_bucket" yaml:"s3_bucket"`
	S3KeyPrefix string `json:"s3_key_prefix" yaml:"s3_key_prefix"`
	S3Acl       string `json:"s3_acl" yaml:"s3_acl"`

	DefaultTargetSchema                  string                         `json:"default_target_schema" yaml:"default_target_schema"`
	DefaultTargetSchemaSelectPermissions GrantConfig                    `json:"default_target_schema_select_permissions" yaml:"default_target_schema_select_permissions"`
	SchemaMapping                        map[string]SchemaMappingConfig `json:"schema_mapping" yaml:"schema_mapping"`

	BatchSizeRows   int    `json:"batch_size_rows" yaml:"batch_size_rows"`
	BatchSizeBytes  string `json:"batch_size_bytes" yaml:"batch_size_bytes"`
	FlushAllStreams bool   `json:"flush_all_streams" yaml:"flush_all_streams"`

	Parallelism    int `json:"parallelism" yaml:"parallelism"`
	MaxParallelism int `json:"max_parallelism" yaml:"max_parallelism"`

	Compression CompressionType `json:"compression" yaml:"compression"`
	Slices      int             `json:"slices" yaml:"slices"`
	CopyOptions string          `json:"copy_options" yaml:"copy_options"`

	AddMetadataColumns bool `json:"add_metadata_columns" yaml:"add_metadata_columns"`
	HardDelete         bool `json:"hard_delete" yaml:"hard_delete"`

	DataFlatteningMaxLevel int   `json:"data_flattening_max_level" yaml:"data_flattening_max_level"`
	PrimaryKeyRequired     *bool `json:"primary_key_required" yaml:"primary_key_required"`
	ValidateRecords        bool  `json:"validate_records" yaml:"validate_records"`
	SkipUpdates            bool  `json:"skip_updates" yaml:"skip_updates"`

	DisableTableCache bool   `json:"disable_table_cache" yaml:"disable_table_cache"`
	TempDir           string `json:"temp_dir" yaml:"temp_dir"`
	VarcharLength     int    `json:"varchar_length" yaml:"varchar_length"`

	StatsEnabled bool   `json:"stats_enabled" yaml:"stats_enabled"`
	StatsAddress string `json:"stats_address" yaml:"stats_address"`

	Logging LoggerConfig `json:"logging" yaml:"logging"`
}

// ApplyDefaults fills in the documented default values for unset options.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 5439
	}
	if c.BatchSizeRows == 0 {
		c.BatchSizeRows = DefaultBatchSizeRows
	}
	if c.MaxParallelism == 0 {
		c.MaxParallelism = DefaultMaxParallelism
	}
	if c.Slices == 0 {
		c.Slices = 1
	}
	if c.CopyOptions == "" {
		c.CopyOptions = DefaultCopyOptions
	}
	if c.VarcharLength == 0 {
		c.VarcharLength = DefaultVarcharLength
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.StatsAddress == "" {
		c.StatsAddress = ":8081"
	}
	// Hard deletes read _SDC_DELETED_AT, which only exists with metadata columns
	if c.HardDelete {
		c.AddMetadataColumns = true
	}
}

// Validate returns the list of configuration errors. An empty list means the
// configuration is usable.
func (c *Config) Validate() []error {
	result := make([]error, 0)

	required := map[string]string{
		"host":      c.Host,
		"user":      c.User,
		"password":  c.Password,
		"dbname":    c.DbName,
		"s3_bucket": c.S3Bucket,
	}
	for key, value := range required {
		if value == "" {
			result = append(result, errors.Errorf("required option missing: %s", key))
		}
	}

	hasStaticCredentials := c.AwsAccessKeyId != "" && c.AwsSecretAccessKey != ""
	if !hasStaticCredentials && c.AwsProfile == "" && c.AwsRedshiftCopyRoleArn == "" {
		if c.AwsAccessKeyId != "" || c.AwsSecretAccessKey != "" {
			result = append(result, errors.Errorf(
				"aws_access_key_id and aws_secret_access_key must be set together",
			))
		}
	}

	if c.DefaultTargetSchema == "" && len(c.SchemaMapping) == 0 {
		result = append(result, errors.Errorf(
			"either default_target_schema or schema_mapping must be set",
		))
	}

	switch c.Compression {
	case CompressionNone, CompressionGzip, CompressionBzip2:
	default:
		result = append(result, errors.Errorf("unknown compression: %s", c.Compression))
	}

	if c.Slices < 1 {
		result = append(result, errors.Errorf("slices must be at least 1"))
	}

	if _, err := c.BatchMaxBytes(); err != nil {
		result = append(result, err)
	}

	return result
}

// BatchMaxBytes parses batch_size_bytes ("512MB" style values are accepted).
// Zero means the byte-based batch limit is disabled.
func (c *Config) BatchMaxBytes() (int64, error) {
	if c.BatchSizeBytes == "" {
		return 0, nil
	}
	size, err := bytesize.Parse(c.BatchSizeBytes)
	if err != nil {
		return 0, errors.Errorf("invalid batch_size_bytes: %s", c.BatchSizeBytes)
	}
	return int64(size), nil
}

// TargetSchema resolves the target schema and grants for a source schema name
// (the middle component of a compound stream name). The schema_mapping entry
// wins over default_target_schema.
func (c *Config) TargetSchema(
	sourceSchema string,
) (string, GrantConfig) {

	if mapping, present := c.SchemaMapping[sourceSchema]; present {
		return mapping.TargetSchema, mapping.TargetSchemaSelectPermissions
	}
	return c.DefaultTargetSchema, c.DefaultTargetSchemaSelectPermissions
}

// SchemaNames lists every target schema the configuration can reference,
// used to prime the catalog cache.
func (c *Config) SchemaNames() []string {
	names := make([]string, 0, len(c.SchemaMapping)+1)
	if c.DefaultTargetSchema != "" {
		names = append(names, c.DefaultTargetSchema)
	}
	for _, mapping := range c.SchemaMapping {
		if mapping.TargetSchema != "" {
			names = append(names, mapping.TargetSchema)
		}
	}
	return lo.Uniq(names)
}

// EffectiveParallelism resolves the §4.7 worker pool sizing rule against the
// current number of active streams.
func (c *Config) EffectiveParallelism(
	activeStreams int,
) int {

	effective := c.Parallelism
	if effective < 0 {
		effective = runtime.NumCPU()
	} else if effective == 0 {
		effective = activeStreams
	}
	if effective < 1 {
		effective = 1
	}
	if effective > c.MaxParallelism {
		effective = c.MaxParallelism
	}
	return effective
}

// PrimaryKeysRequired defaults to true when unset.
func (c *Config) PrimaryKeysRequired() bool {
	if c.PrimaryKeyRequired == nil {
		return true
	}
	return *c.PrimaryKeyRequired
}
