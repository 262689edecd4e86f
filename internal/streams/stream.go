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

package streams

import (
	"sync"

	"github.com/rhodium-data/target-redshift/internal/records"
	"github.com/rhodium-data/target-redshift/internal/staging"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
	"github.com/rhodium-data/target-redshift/spi/warehouse"
)

// Stream is the per-stream ingestion state: the effective flattened schema,
// the open staging batch, and the version markers. The mutex serializes all
// ingestion-side mutations; flushes of sealed batches run outside of it.
type Stream struct {
	Name         string
	TargetSchema string
	TableName    string
	Grants       spiconfig.GrantConfig

	mutex sync.Mutex

	flat          *schemamodel.FlatSchema
	keyProperties []string
	normalizer    *records.Normalizer
	writer        *staging.Writer

	activeVersion  *int64
	pendingVersion *int64

	totalRows int64

	// flushGate chains flush submissions of this stream so they run in
	// submission order even when workers complete out of order
	flushGate chan struct{}
}

// Spec snapshots the warehouse table description under the stream lock.
func (s *Stream) Spec() warehouse.TableSpec {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.spec()
}

func (s *Stream) spec() warehouse.TableSpec {
	columns := make([]schemamodel.Column, s.flat.Len())
	copy(columns, s.flat.Columns())
	keys := make([]string, len(s.keyProperties))
	copy(keys, s.keyProperties)

	return warehouse.TableSpec{
		Schema:      s.TargetSchema,
		Table:       s.TableName,
		Columns:     columns,
		PrimaryKeys: keys,
		Grants:      s.Grants,
	}
}

// PendingRows returns the row count of the open batch.
func (s *Stream) PendingRows() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.writer == nil {
		return 0
	}
	return s.writer.Rows()
}

// TotalRows returns the cumulative record count of this stream.
func (s *Stream) TotalRows() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.totalRows
}

// ChainFlush registers the gate of a new flush submission and returns the
// gate of the previous one, nil for the first flush of the stream.
func (s *Stream) ChainFlush(
	gate chan struct{},
) chan struct{} {

	s.mutex.Lock()
	defer s.mutex.Unlock()
	previous := s.flushGate
	s.flushGate = gate
	return previous
}
