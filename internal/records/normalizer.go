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

package records

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
)

// timestampFormat is the ISO-8601 rendering used for metadata timestamps.
const timestampFormat = "2006-01-02T15:04:05.000000Z"

// Metadata carries the engine-side values for the _SDC_* columns of one row.
type Metadata struct {
	ExtractedAt time.Time
	ReceivedAt  time.Time
	BatchedAt   time.Time
	Sequence    int64
	Version     *int64
}

// Normalizer projects records onto a flattened schema and renders them as
// CSV rows in the schema's column order.
type Normalizer struct {
	stream   string
	flat     *schemamodel.FlatSchema
	validate bool
}

func NewNormalizer(
	stream string, flat *schemamodel.FlatSchema, validate bool,
) *Normalizer {

	return &Normalizer{
		stream:   stream,
		flat:     flat,
		validate: validate,
	}
}

// Row renders one record. The returned row is newline-terminated.
func (n *Normalizer) Row(
	record map[string]any, meta Metadata,
) ([]byte, error) {

	builder := strings.Builder{}
	for i, column := range n.flat.Columns() {
		if i > 0 {
			builder.WriteByte(',')
		}

		value, err := n.fieldValue(column, record, meta)
		if err != nil {
			return nil, err
		}
		if value != nil {
			writeField(&builder, *value)
		}
	}
	builder.WriteByte('\n')
	return []byte(builder.String()), nil
}

// fieldValue resolves one column of the row. nil means NULL.
func (n *Normalizer) fieldValue(
	column schemamodel.Column, record map[string]any, meta Metadata,
) (*string, error) {

	if column.Path == nil && schemamodel.IsMetadataColumn(column.Name) {
		return n.metadataValue(column.Name, record, meta)
	}

	value, present := lookupPath(record, column.Path)
	if !present || value == nil {
		return nil, nil
	}

	switch column.Type.Kind {
	case schemamodel.KindSuper:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, n.validationError(column.Name, record, "value is not serializable: %v", err)
		}
		return addrOf(string(encoded)), nil

	case schemamodel.KindDateTime:
		text, ok := value.(string)
		if !ok {
			return n.failOrNull(column.Name, record, "date-time value is not a string: %v", value)
		}
		if !isValidDateTime(text) {
			return n.failOrNull(column.Name, record, "invalid date-time: %s", text)
		}
		return addrOf(text), nil

	case schemamodel.KindNumber:
		number, ok := value.(float64)
		if !ok {
			return n.failOrNull(column.Name, record, "numeric value is not a number: %v", value)
		}
		if math.IsNaN(number) || math.IsInf(number, 0) {
			return nil, nil
		}
		return addrOf(strconv.FormatFloat(number, 'f', -1, 64)), nil

	case schemamodel.KindInteger:
		switch typed := value.(type) {
		case float64:
			return addrOf(strconv.FormatFloat(typed, 'f', -1, 64)), nil
		case json.Number:
			return addrOf(typed.String()), nil
		default:
			return n.failOrNull(column.Name, record, "integer value is not a number: %v", value)
		}

	case schemamodel.KindBoolean:
		boolean, ok := value.(bool)
		if !ok {
			return n.failOrNull(column.Name, record, "boolean value is not a bool: %v", value)
		}
		return addrOf(strconv.FormatBool(boolean)), nil
	}

	// String-ish kinds, including date and time pass-through
	switch typed := value.(type) {
	case string:
		return addrOf(typed), nil
	case float64:
		return addrOf(strconv.FormatFloat(typed, 'f', -1, 64)), nil
	case bool:
		return addrOf(strconv.FormatBool(typed)), nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, n.validationError(column.Name, record, "value is not serializable: %v", err)
		}
		return addrOf(string(encoded)), nil
	}
}

func (n *Normalizer) metadataValue(
	name string, record map[string]any, meta Metadata,
) (*string, error) {

	formatTime := func(t time.Time) *string {
		if t.IsZero() {
			return nil
		}
		return addrOf(t.UTC().Format(timestampFormat))
	}

	switch name {
	case schemamodel.MetadataExtractedAt:
		return formatTime(meta.ExtractedAt), nil
	case schemamodel.MetadataReceivedAt:
		return formatTime(meta.ReceivedAt), nil
	case schemamodel.MetadataBatchedAt:
		return formatTime(meta.BatchedAt), nil
	case schemamodel.MetadataDeletedAt:
		value, present := record["_sdc_deleted_at"]
		if !present || value == nil {
			return nil, nil
		}
		text, ok := value.(string)
		if !ok || !isValidDateTime(text) {
			return n.failOrNull(name, record, "invalid _sdc_deleted_at: %v", value)
		}
		return addrOf(text), nil
	case schemamodel.MetadataSequence:
		return addrOf(strconv.FormatInt(meta.Sequence, 10)), nil
	case schemamodel.MetadataTableVersion:
		if meta.Version == nil {
			return nil, nil
		}
		return addrOf(strconv.FormatInt(*meta.Version, 10)), nil
	}
	return nil, nil
}

func (n *Normalizer) failOrNull(
	column string, record map[string]any, format string, args ...any,
) (*string, error) {

	if n.validate {
		return nil, n.validationError(column, record, format, args...)
	}
	return nil, nil
}

func (n *Normalizer) validationError(
	column string, record map[string]any, format string, args ...any,
) *schemamodel.ValidationError {

	locator, _ := json.Marshal(record)
	return &schemamodel.ValidationError{
		Stream:  n.stream,
		Column:  column,
		Detail:  fmt.Sprintf(format, args...),
		Locator: string(locator),
	}
}

// lookupPath walks nested record maps along the flattened column path.
func lookupPath(
	record map[string]any, path []string,
) (any, bool) {

	var current any = record
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

var dateTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func isValidDateTime(
	text string,
) bool {

	for _, format := range dateTimeFormats {
		if _, err := time.Parse(format, text); err == nil {
			return true
		}
	}
	return false
}

// writeField renders one CSV field. The escape character doubles itself and
// quoted fields double their embedded quotes (RFC 4180).
func writeField(
	builder *strings.Builder, value string,
) {

	escaped := strings.ReplaceAll(value, `\`, `\\`)
	if strings.ContainsAny(escaped, ",\"\r\n\\") {
		builder.WriteByte('"')
		builder.WriteString(strings.ReplaceAll(escaped, `"`, `""`))
		builder.WriteByte('"')
		return
	}
	builder.WriteString(escaped)
}

func addrOf(value string) *string {
	return &value
}
