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
	"fmt"

	"github.com/rhodium-data/target-redshift/spi/jsonschema"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
)

const maxVarcharLength = 65535

// ColumnTypeOf maps a JSON-Schema node to its warehouse column type. Unknown
// types fall through to the default VARCHAR, never an error.
func ColumnTypeOf(
	node *jsonschema.Schema, varcharLength int,
) schemamodel.ColumnType {

	node = node.Resolve()
	nullable := node.Nullable()

	varchar := func(length int) schemamodel.ColumnType {
		return schemamodel.ColumnType{
			Kind:     schemamodel.KindString,
			SqlType:  fmt.Sprintf("CHARACTER VARYING(%d)", length),
			Nullable: nullable,
		}
	}

	switch node.PrimaryType() {
	case "string":
		switch node.Format {
		case "date-time":
			return schemamodel.ColumnType{
				Kind:     schemamodel.KindDateTime,
				SqlType:  "TIMESTAMP WITHOUT TIME ZONE",
				Nullable: nullable,
			}
		case "time":
			return schemamodel.ColumnType{
				Kind:     schemamodel.KindTime,
				SqlType:  "CHARACTER VARYING(16)",
				Nullable: nullable,
			}
		case "date":
			return schemamodel.ColumnType{
				Kind:     schemamodel.KindDate,
				SqlType:  "DATE",
				Nullable: nullable,
			}
		}
		if node.MaxLength > 0 {
			length := node.MaxLength * 3
			if length > maxVarcharLength {
				length = maxVarcharLength
			}
			return varchar(length)
		}
		return varchar(varcharLength)
	case "integer":
		return schemamodel.ColumnType{
			Kind:     schemamodel.KindInteger,
			SqlType:  "NUMERIC(38,0)",
			Nullable: nullable,
		}
	case "number":
		return schemamodel.ColumnType{
			Kind:     schemamodel.KindNumber,
			SqlType:  "FLOAT",
			Nullable: nullable,
		}
	case "boolean":
		return schemamodel.ColumnType{
			Kind:     schemamodel.KindBoolean,
			SqlType:  "BOOLEAN",
			Nullable: nullable,
		}
	case "object", "array":
		return schemamodel.ColumnType{
			Kind:     schemamodel.KindSuper,
			SqlType:  "SUPER",
			Nullable: nullable,
		}
	}
	return varchar(varcharLength)
}
