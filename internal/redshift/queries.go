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

package redshift

// region Catalog Queries
const queryTableColumns = `
SELECT c.table_name, c.column_name, c.data_type,
       COALESCE(c.character_maximum_length, 0),
       COALESCE(c.numeric_precision, 0), COALESCE(c.numeric_scale, 0)
FROM information_schema.columns c
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position`

const querySingleTableColumns = `
SELECT c.table_name, c.column_name, c.data_type,
       COALESCE(c.character_maximum_length, 0),
       COALESCE(c.numeric_precision, 0), COALESCE(c.numeric_scale, 0)
FROM information_schema.columns c
WHERE c.table_schema = $1
  AND c.table_name = $2
ORDER BY c.ordinal_position`

// endregion

// region DDL Templates
const queryTemplateCreateSchema = `CREATE SCHEMA IF NOT EXISTS %s`

const queryTemplateCreateTable = `CREATE TABLE IF NOT EXISTS %s (%s)`

const queryTemplateCreateTempTable = `CREATE TEMP TABLE %s (%s)`

const queryTemplateAddColumn = `ALTER TABLE %s ADD COLUMN %s %s`

const queryTemplateWidenColumn = `ALTER TABLE %s ALTER COLUMN %s TYPE %s`

const queryTemplateDropTable = `DROP TABLE IF EXISTS %s`

const queryTemplateTruncateTable = `TRUNCATE %s`

// endregion

// region Load Templates
const queryTemplateCopy = `COPY %s (%s) FROM '%s' %s %s DELIMITER ',' REMOVEQUOTES ESCAPE %s`

const queryTemplateInsertAll = `INSERT INTO %s (%s) SELECT %s FROM %s`

const queryTemplateDeleteMatching = `DELETE FROM %s USING %s WHERE %s`

// Deduped inserts pick the last staged row per primary key. The temp table
// carries the load sequence column, the target does not.
const queryTemplateInsertDeduped = `INSERT INTO %s (%s) SELECT %s FROM ` +
	`(SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s DESC) AS "_RN" FROM %s) "_D" ` +
	`WHERE "_RN" = 1`

const queryTemplateInsertDedupedMissing = `INSERT INTO %s (%s) SELECT %s FROM ` +
	`(SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s DESC) AS "_RN" FROM %s) "_D" ` +
	`WHERE "_RN" = 1 AND NOT EXISTS (SELECT 1 FROM %s WHERE %s)`

const queryTemplateHardDelete = `DELETE FROM %s WHERE %s IS NOT NULL`

const queryTemplateDeleteOldVersions = `DELETE FROM %s WHERE %s IS NOT NULL AND %s < %d`

// endregion

// region Grant Templates
const queryTemplateGrantSchemaUsageUser = `GRANT USAGE ON SCHEMA %s TO %s`

const queryTemplateGrantSchemaUsageGroup = `GRANT USAGE ON SCHEMA %s TO GROUP %s`

const queryTemplateGrantTableSelectUser = `GRANT SELECT ON %s TO %s`

const queryTemplateGrantTableSelectGroup = `GRANT SELECT ON %s TO GROUP %s`

// endregion
