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

package warehouse

import (
	"context"

	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
)

// TableSpec describes the target table of one stream.
type TableSpec struct {
	Schema      string
	Table       string
	Columns     []schemamodel.Column
	PrimaryKeys []string
	Grants      spiconfig.GrantConfig
}

// TableSpecSnapshot pairs a table snapshot with the version change captured
// when the batch was sealed.
type TableSpecSnapshot struct {
	Spec            TableSpec
	ActivateVersion *int64
}

// LoadRequest is one sealed batch on its way into the warehouse.
type LoadRequest struct {
	Spec        TableSpec
	Paths       []string
	BaseName    string
	Rows        int64
	Bytes       int64
	Compression spiconfig.CompressionType

	// ActivateVersion applies a pending table version change with this load.
	ActivateVersion *int64
}

// Syncer is the warehouse-side loading contract: schema DDL, staging
// upload, COPY, merge, and cleanup.
type Syncer interface {
	Prime(
		ctx context.Context,
	) error
	EnsureSchema(
		ctx context.Context, schema string, grants spiconfig.GrantConfig,
	) error
	EnsureTable(
		ctx context.Context, spec TableSpec,
	) error
	Load(
		ctx context.Context, req LoadRequest,
	) error
}
