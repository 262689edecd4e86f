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

package naming

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// maxIdentifierLength is the warehouse limit for identifier names.
const maxIdentifierLength = 127

const hashSuffixLength = 8

// SafeColumnName sanitizes a raw field name into a warehouse identifier:
// uppercase, non-alphanumerics replaced by underscores, digit-led names
// prefixed, overlong names truncated with a stable hash suffix.
func SafeColumnName(
	raw string,
) string {

	builder := strings.Builder{}
	builder.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			builder.WriteRune(r)
		} else {
			builder.WriteRune('_')
		}
	}

	name := builder.String()
	if name == "" {
		name = "_"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}

	if len(name) > maxIdentifierLength {
		name = name[:maxIdentifierLength-hashSuffixLength] + hashSuffix(raw)
	}
	return name
}

// SafeTableName applies the column identifier rules to a table name.
func SafeTableName(
	raw string,
) string {

	return SafeColumnName(raw)
}

func hashSuffix(
	raw string,
) string {

	h := fnv.New32a()
	h.Write([]byte(raw))
	return fmt.Sprintf("%08X", h.Sum32())
}

// Quote renders an identifier double-quoted for SQL. All generated SQL uses
// quoted identifiers, which also covers reserved words.
func Quote(
	identifier string,
) string {

	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// QualifiedName renders schema.table, both parts quoted.
func QualifiedName(
	schema, table string,
) string {

	return Quote(schema) + "." + Quote(table)
}

// StreamName is the decomposed form of a compound stream name.
type StreamName struct {
	Catalog string
	Schema  string
	Table   string
}

// ParseStreamName splits a stream name on the separator into its catalog,
// schema, and table components. One component is a bare table name, two are
// schema-table, three or more are catalog-schema-table with any remaining
// separators folded into the table part.
func ParseStreamName(
	raw, separator string,
) StreamName {

	parts := strings.Split(raw, separator)
	switch len(parts) {
	case 1:
		return StreamName{Table: parts[0]}
	case 2:
		return StreamName{Schema: parts[0], Table: parts[1]}
	default:
		return StreamName{
			Catalog: parts[0],
			Schema:  parts[1],
			Table:   strings.Join(parts[2:], separator),
		}
	}
}
