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

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind int8

const (
	KindString Kind = iota
	KindDateTime
	KindDate
	KindTime
	KindInteger
	KindNumber
	KindBoolean
	KindSuper
)

// ColumnType is a resolved warehouse column type.
type ColumnType struct {
	Kind     Kind
	SqlType  string
	Nullable bool
}

// Column is one entry of a flattened schema: a sanitized column name, the
// source record path it projects, and the resolved type.
type Column struct {
	Name string
	Path []string
	Type ColumnType
}

// FlatSchema is the ordered column set produced by flattening a stream's
// JSON-Schema. The order is stable for a given input schema and depth.
type FlatSchema struct {
	columns []Column
	index   map[string]int
}

func NewFlatSchema(
	columns []Column,
) *FlatSchema {

	index := make(map[string]int, len(columns))
	for i, column := range columns {
		index[column.Name] = i
	}
	return &FlatSchema{
		columns: columns,
		index:   index,
	}
}

func (fs *FlatSchema) Columns() []Column {
	return fs.columns
}

func (fs *FlatSchema) Column(
	name string,
) (Column, bool) {

	if i, present := fs.index[name]; present {
		return fs.columns[i], true
	}
	return Column{}, false
}

func (fs *FlatSchema) Names() []string {
	names := make([]string, 0, len(fs.columns))
	for _, column := range fs.columns {
		names = append(names, column.Name)
	}
	return names
}

func (fs *FlatSchema) Len() int {
	return len(fs.columns)
}

// VarcharLength extracts the length from a CHARACTER VARYING(n) type string.
func VarcharLength(
	sqlType string,
) (int, bool) {

	upper := strings.ToUpper(sqlType)
	if !strings.HasPrefix(upper, "CHARACTER VARYING(") {
		return 0, false
	}
	length := strings.TrimSuffix(strings.TrimPrefix(upper, "CHARACTER VARYING("), ")")
	n, err := strconv.Atoi(length)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SchemaError terminates the engine: unparseable schemas, column collisions
// after flattening, missing required primary keys, unresolved target schemas.
type SchemaError struct {
	Stream string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("schema error: %s", e.Detail)
	}
	return fmt.Sprintf("schema error in stream %s: %s", e.Stream, e.Detail)
}

func SchemaErrorf(stream, format string, args ...any) *SchemaError {
	return &SchemaError{Stream: stream, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError is raised per offending record when validate_records is on.
type ValidationError struct {
	Stream  string
	Column  string
	Detail  string
	Locator string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"record validation failed in stream %s, column %s: %s (record: %s)",
		e.Stream, e.Column, e.Detail, e.Locator,
	)
}
