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
	"math"
	"testing"
	"time"

	"github.com/rhodium-data/target-redshift/spi/schemamodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSchemaOf(columns ...schemamodel.Column) *schemamodel.FlatSchema {
	return schemamodel.NewFlatSchema(columns)
}

func column(name string, kind schemamodel.Kind, path ...string) schemamodel.Column {
	return schemamodel.Column{
		Name: name,
		Path: path,
		Type: schemamodel.ColumnType{Kind: kind},
	}
}

func TestRow_SimpleTypes(t *testing.T) {
	flat := flatSchemaOf(
		column("ID", schemamodel.KindInteger, "id"),
		column("NAME", schemamodel.KindString, "name"),
		column("SCORE", schemamodel.KindNumber, "score"),
		column("ACTIVE", schemamodel.KindBoolean, "active"),
	)
	normalizer := NewNormalizer("test", flat, false)

	row, err := normalizer.Row(map[string]any{
		"id":     float64(1),
		"name":   "alice",
		"score":  float64(1.5),
		"active": true,
	}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "1,alice,1.5,true\n", string(row))
}

func TestRow_MissingPathsAreNull(t *testing.T) {
	flat := flatSchemaOf(
		column("ID", schemamodel.KindInteger, "id"),
		column("NAME", schemamodel.KindString, "name"),
	)
	normalizer := NewNormalizer("test", flat, false)

	row, err := normalizer.Row(map[string]any{"id": float64(2)}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "2,\n", string(row))
}

func TestRow_NestedPath(t *testing.T) {
	flat := flatSchemaOf(
		column("A__B", schemamodel.KindInteger, "a", "b"),
	)
	normalizer := NewNormalizer("test", flat, false)

	row, err := normalizer.Row(map[string]any{
		"a": map[string]any{"b": float64(7)},
	}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "7\n", string(row))
}

func TestRow_SuperSerialization(t *testing.T) {
	flat := flatSchemaOf(
		column("A", schemamodel.KindSuper, "a"),
	)
	normalizer := NewNormalizer("test", flat, false)

	row, err := normalizer.Row(map[string]any{
		"a": map[string]any{"b": float64(7)},
	}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "\"{\"\"b\"\":7}\"\n", string(row))
}

func TestRow_SuperPreservesArrayOrder(t *testing.T) {
	flat := flatSchemaOf(
		column("A", schemamodel.KindSuper, "a"),
	)
	normalizer := NewNormalizer("test", flat, false)

	row, err := normalizer.Row(map[string]any{
		"a": []any{float64(3), float64(1), float64(2)},
	}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "\"[3,1,2]\"\n", string(row))
}

func TestRow_CsvEscaping(t *testing.T) {
	flat := flatSchemaOf(
		column("TEXT", schemamodel.KindString, "text"),
	)
	normalizer := NewNormalizer("test", flat, false)

	testCases := []struct {
		name     string
		value    string
		expected string
	}{
		{"plain", "hello", "hello\n"},
		{"embedded comma", "a,b", "\"a,b\"\n"},
		{"embedded quote doubled", `say "hi"`, "\"say \"\"hi\"\"\"\n"},
		{"crlf preserved inside quotes", "line1\r\nline2", "\"line1\r\nline2\"\n"},
		{"backslash escaped", `a\b`, "\"a\\\\b\"\n"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			row, err := normalizer.Row(map[string]any{"text": testCase.value}, Metadata{})
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, string(row))
		})
	}
}

func TestRow_NumberEdgeCases(t *testing.T) {
	flat := flatSchemaOf(
		column("VALUE", schemamodel.KindNumber, "value"),
	)
	normalizer := NewNormalizer("test", flat, false)

	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		row, err := normalizer.Row(map[string]any{"value": value}, Metadata{})
		require.NoError(t, err)
		assert.Equal(t, "\n", string(row))
	}

	row, err := normalizer.Row(map[string]any{"value": float64(0.1)}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "0.1\n", string(row))
}

func TestRow_DateTimeValidation(t *testing.T) {
	flat := flatSchemaOf(
		column("TS", schemamodel.KindDateTime, "ts"),
	)

	lenient := NewNormalizer("test", flat, false)
	row, err := lenient.Row(map[string]any{"ts": "2024-01-01T00:00:00Z"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z\n", string(row))

	// Invalid timestamps turn into NULL without validation
	row, err = lenient.Row(map[string]any{"ts": "not-a-timestamp"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "\n", string(row))

	// With validation, the first offender fails the stream
	strict := NewNormalizer("test", flat, true)
	_, err = strict.Row(map[string]any{"ts": "not-a-timestamp"}, Metadata{})
	require.Error(t, err)

	validationErr := &schemamodel.ValidationError{}
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "test", validationErr.Stream)
	assert.Contains(t, validationErr.Locator, "not-a-timestamp")
}

func TestRow_ValidationTypeMismatch(t *testing.T) {
	flat := flatSchemaOf(
		column("COUNT", schemamodel.KindInteger, "count"),
	)

	strict := NewNormalizer("test", flat, true)
	_, err := strict.Row(map[string]any{"count": "twelve"}, Metadata{})
	require.Error(t, err)

	lenient := NewNormalizer("test", flat, false)
	row, err := lenient.Row(map[string]any{"count": "twelve"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "\n", string(row))
}

func TestRow_MetadataColumns(t *testing.T) {
	columns := schemamodel.MetadataColumns()
	columns = append(columns, column("ID", schemamodel.KindInteger, "id"))
	normalizer := NewNormalizer("test", schemamodel.NewFlatSchema(columns), false)

	received := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	version := int64(42)

	row, err := normalizer.Row(
		map[string]any{
			"id":              float64(1),
			"_sdc_deleted_at": "2024-01-01T00:00:00Z",
		},
		Metadata{
			ExtractedAt: received.Add(-time.Minute),
			ReceivedAt:  received,
			BatchedAt:   received,
			Sequence:    7,
			Version:     &version,
		},
	)
	require.NoError(t, err)
	assert.Equal(t,
		"2024-01-15T10:29:00.000000Z,"+
			"2024-01-15T10:30:00.000000Z,"+
			"2024-01-15T10:30:00.000000Z,"+
			"2024-01-01T00:00:00Z,"+
			"7,42,1\n",
		string(row),
	)
}

func TestRow_MetadataColumnsUnsetValues(t *testing.T) {
	columns := schemamodel.MetadataColumns()
	columns = append(columns, column("ID", schemamodel.KindInteger, "id"))
	normalizer := NewNormalizer("test", schemamodel.NewFlatSchema(columns), false)

	row, err := normalizer.Row(map[string]any{"id": float64(1)}, Metadata{Sequence: 1})
	require.NoError(t, err)
	assert.Equal(t, ",,,,1,,1\n", string(row))
}
