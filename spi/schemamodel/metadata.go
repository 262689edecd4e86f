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

package schemamodel

const (
	MetadataExtractedAt  = "_SDC_EXTRACTED_AT"
	MetadataReceivedAt   = "_SDC_RECEIVED_AT"
	MetadataBatchedAt    = "_SDC_BATCHED_AT"
	MetadataDeletedAt    = "_SDC_DELETED_AT"
	MetadataSequence     = "_SDC_SEQUENCE"
	MetadataTableVersion = "_SDC_TABLE_VERSION"
)

const timestampType = "TIMESTAMP WITHOUT TIME ZONE"

// MetadataColumns returns the fixed column set prepended to every flattened
// schema when metadata columns are enabled.
func MetadataColumns() []Column {
	return []Column{
		{Name: MetadataExtractedAt, Type: ColumnType{Kind: KindDateTime, SqlType: timestampType, Nullable: true}},
		{Name: MetadataReceivedAt, Type: ColumnType{Kind: KindDateTime, SqlType: timestampType, Nullable: true}},
		{Name: MetadataBatchedAt, Type: ColumnType{Kind: KindDateTime, SqlType: timestampType, Nullable: true}},
		{Name: MetadataDeletedAt, Type: ColumnType{Kind: KindDateTime, SqlType: timestampType, Nullable: true}},
		{Name: MetadataSequence, Type: ColumnType{Kind: KindInteger, SqlType: "BIGINT", Nullable: true}},
		{Name: MetadataTableVersion, Type: ColumnType{Kind: KindInteger, SqlType: "BIGINT", Nullable: true}},
	}
}

// IsMetadataColumn reports whether the sanitized column name is one of the
// engine-managed metadata columns.
func IsMetadataColumn(
	name string,
) bool {

	switch name {
	case MetadataExtractedAt, MetadataReceivedAt, MetadataBatchedAt,
		MetadataDeletedAt, MetadataSequence, MetadataTableVersion:
		return true
	}
	return false
}
