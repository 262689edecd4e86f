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

package schemamapping

import (
	"strings"

	"github.com/rhodium-data/target-redshift/internal/naming"
	"github.com/rhodium-data/target-redshift/spi/jsonschema"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
)

// flattenSeparator joins parent and child property names.
const flattenSeparator = "__"

// Flattener lowers JSON-Schemas to flat warehouse column sets.
type Flattener struct {
	maxLevel      int
	varcharLength int
	withMetadata  bool
}

func NewFlattener(
	maxLevel, varcharLength int, withMetadata bool,
) *Flattener {

	return &Flattener{
		maxLevel:      maxLevel,
		varcharLength: varcharLength,
		withMetadata:  withMetadata,
	}
}

// FlattenSchema produces the ordered, sanitized column set of a stream
// schema. Distinct source paths collapsing to the same sanitized name are a
// hard error.
func (f *Flattener) FlattenSchema(
	stream string, schema *jsonschema.Schema,
) (*schemamodel.FlatSchema, error) {

	columns := make([]schemamodel.Column, 0, 16)
	seen := make(map[string]string)

	if f.withMetadata {
		for _, column := range schemamodel.MetadataColumns() {
			columns = append(columns, column)
			seen[column.Name] = column.Name
		}
	}

	var walk func(node *jsonschema.Schema, path []string, level int) error
	walk = func(node *jsonschema.Schema, path []string, level int) error {
		for _, name := range node.PropertyNames() {
			property := node.Properties[name].Resolve()
			childPath := append(append([]string{}, path...), name)

			if property.PrimaryType() == "object" && property.HasProperties() && level < f.maxLevel {
				if err := walk(property, childPath, level+1); err != nil {
					return err
				}
				continue
			}

			rawName := strings.Join(childPath, flattenSeparator)
			safeName := naming.SafeColumnName(rawName)
			if previous, present := seen[safeName]; present {
				if schemamodel.IsMetadataColumn(safeName) {
					// The tap already declares the metadata field, keep ours
					continue
				}
				return schemamodel.SchemaErrorf(
					stream, "duplicate column name after flattening: %s (from %s and %s)",
					safeName, previous, rawName,
				)
			}
			seen[safeName] = rawName

			columns = append(columns, schemamodel.Column{
				Name: safeName,
				Path: childPath,
				Type: ColumnTypeOf(property, f.varcharLength),
			})
		}
		return nil
	}

	if err := walk(schema.Resolve(), nil, 0); err != nil {
		return nil, err
	}

	return schemamodel.NewFlatSchema(columns), nil
}
