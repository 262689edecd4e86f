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
	"strconv"
	"time"

	"github.com/rhodium-data/target-redshift/internal/containers"
	"github.com/rhodium-data/target-redshift/internal/logging"
	"github.com/rhodium-data/target-redshift/internal/naming"
	"github.com/rhodium-data/target-redshift/internal/records"
	"github.com/rhodium-data/target-redshift/internal/schemamapping"
	"github.com/rhodium-data/target-redshift/internal/staging"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/jsonschema"
	"github.com/rhodium-data/target-redshift/spi/protocol"
	"github.com/rhodium-data/target-redshift/spi/schemamodel"
	"github.com/rhodium-data/target-redshift/spi/warehouse"
)

// Registry tracks all known streams and applies protocol messages to them.
type Registry struct {
	logger     *logging.Logger
	config     *spiconfig.Config
	scratchDir string
	flattener  *schemamapping.Flattener
	streams    *containers.ConcurrentMap[string, *Stream]
	maxBytes   int64
}

func NewRegistry(
	config *spiconfig.Config, scratchDir string,
) (*Registry, error) {

	logger, err := logging.NewLogger("StreamRegistry")
	if err != nil {
		return nil, err
	}

	maxBytes, err := config.BatchMaxBytes()
	if err != nil {
		return nil, err
	}

	return &Registry{
		logger:     logger,
		config:     config,
		scratchDir: scratchDir,
		flattener: schemamapping.NewFlattener(
			config.DataFlatteningMaxLevel, config.VarcharLength, config.AddMetadataColumns,
		),
		streams:  containers.NewConcurrentMap[string, *Stream](),
		maxBytes: maxBytes,
	}, nil
}

func (r *Registry) Get(
	name string,
) (*Stream, bool) {

	return r.streams.Load(name)
}

func (r *Registry) Count() int {
	return r.streams.Length()
}

func (r *Registry) Range(
	fn func(stream *Stream) bool,
) {

	r.streams.Range(func(_ string, stream *Stream) bool {
		return fn(stream)
	})
}

// OnSchema creates or re-keys a stream. When the column set of an existing
// stream changes while rows are staged, needFlush asks the caller to flush
// the old batch before the new schema takes effect.
func (r *Registry) OnSchema(
	msg *protocol.Message,
) (stream *Stream, needFlush bool, err error) {

	parsedSchema, err := jsonschema.Parse(msg.Schema)
	if err != nil {
		return nil, false, schemamodel.SchemaErrorf(msg.Stream, "%s", err.Error())
	}

	flat, err := r.flattener.FlattenSchema(msg.Stream, parsedSchema)
	if err != nil {
		return nil, false, err
	}

	keys := make([]string, 0, len(*msg.KeyProperties))
	for _, key := range *msg.KeyProperties {
		keys = append(keys, naming.SafeColumnName(key))
	}
	if len(keys) == 0 && r.config.PrimaryKeysRequired() {
		return nil, false, schemamodel.SchemaErrorf(
			msg.Stream, "primary key is required, but key_properties is empty "+
				"(set primary_key_required: false to allow this)",
		)
	}

	streamName := naming.ParseStreamName(msg.Stream, spiconfig.StreamNameSeparator)
	sourceSchema := streamName.Schema
	if sourceSchema == "" {
		sourceSchema = streamName.Table
	}
	targetSchema, grants := r.config.TargetSchema(sourceSchema)
	if targetSchema == "" {
		return nil, false, schemamodel.SchemaErrorf(
			msg.Stream, "no target schema configured for source schema %s", sourceSchema,
		)
	}

	existing, present := r.streams.Load(msg.Stream)
	if !present {
		stream := &Stream{
			Name:          msg.Stream,
			TargetSchema:  targetSchema,
			TableName:     naming.SafeTableName(streamName.Table),
			Grants:        grants,
			flat:          flat,
			keyProperties: keys,
		}
		stream.normalizer = records.NewNormalizer(msg.Stream, flat, r.config.ValidateRecords)
		stream.writer = r.newWriter(stream)
		r.streams.Store(msg.Stream, stream)
		r.logger.Infof(
			"Stream %s registered with %d column(s), target %s.%s",
			msg.Stream, flat.Len(), targetSchema, stream.TableName,
		)
		return stream, false, nil
	}

	existing.mutex.Lock()
	defer existing.mutex.Unlock()

	changed := !equalColumns(existing.flat, flat)
	needFlush = changed && existing.writer != nil && existing.writer.Rows() > 0
	if !needFlush {
		// Safe to swap in place, staged rows (if any) match the column set
		existing.flat = flat
		existing.keyProperties = keys
		existing.normalizer = records.NewNormalizer(msg.Stream, flat, r.config.ValidateRecords)
		if changed {
			r.logger.Infof("Stream %s re-keyed, DDL deferred to next flush", msg.Stream)
		}
	}
	return existing, needFlush, nil
}

// ApplySchema swaps the new column set in after the caller flushed the
// stream's old batch.
func (r *Registry) ApplySchema(
	stream *Stream, msg *protocol.Message,
) error {

	parsedSchema, err := jsonschema.Parse(msg.Schema)
	if err != nil {
		return schemamodel.SchemaErrorf(msg.Stream, "%s", err.Error())
	}
	flat, err := r.flattener.FlattenSchema(msg.Stream, parsedSchema)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(*msg.KeyProperties))
	for _, key := range *msg.KeyProperties {
		keys = append(keys, naming.SafeColumnName(key))
	}

	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	stream.flat = flat
	stream.keyProperties = keys
	stream.normalizer = records.NewNormalizer(msg.Stream, flat, r.config.ValidateRecords)
	return nil
}

// OnRecord normalizes and stages one record. full reports that the stream's
// batch passed a size threshold and should be flushed.
func (r *Registry) OnRecord(
	msg *protocol.Message, sequence int64,
) (stream *Stream, full bool, err error) {

	stream, present := r.streams.Load(msg.Stream)
	if !present {
		return nil, false, protocol.Errorf(
			"RECORD message for stream %s arrived before its SCHEMA", msg.Stream,
		)
	}

	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	now := time.Now()
	meta := records.Metadata{
		ReceivedAt: now,
		BatchedAt:  now,
		Sequence:   sequence,
	}
	if msg.TimeExtracted != "" {
		if extracted, err := time.Parse(time.RFC3339, msg.TimeExtracted); err == nil {
			meta.ExtractedAt = extracted
		}
	}
	if msg.Version != nil {
		meta.Version = msg.Version
	} else {
		meta.Version = stream.activeVersion
	}

	row, err := stream.normalizer.Row(msg.Record, meta)
	if err != nil {
		return nil, false, err
	}

	// Streams with a primary key stage a leading load sequence; the merge
	// uses it to pick the last writer per key within one batch
	if len(stream.keyProperties) > 0 {
		row = append([]byte(strconv.FormatInt(sequence, 10)+","), row...)
	}

	if stream.writer == nil {
		stream.writer = r.newWriter(stream)
	}
	if err := stream.writer.Append(row); err != nil {
		return nil, false, err
	}
	stream.totalRows++

	full = stream.writer.Rows() >= int64(r.config.BatchSizeRows) ||
		(r.maxBytes > 0 && stream.writer.Bytes() >= r.maxBytes)
	return stream, full, nil
}

// OnActivateVersion records the version change; it is applied with the
// stream's next flush.
func (r *Registry) OnActivateVersion(
	msg *protocol.Message,
) (*Stream, error) {

	stream, present := r.streams.Load(msg.Stream)
	if !present {
		return nil, protocol.Errorf(
			"ACTIVATE_VERSION message for stream %s arrived before its SCHEMA", msg.Stream,
		)
	}

	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	stream.pendingVersion = msg.Version
	stream.activeVersion = msg.Version
	return stream, nil
}

// SealBatch rotates the stream's stage writer and hands the sealed batch
// plus the matching table snapshot to the caller. Ingestion can continue on
// the fresh writer while the sealed batch is flushed.
func (r *Registry) SealBatch(
	stream *Stream,
) (*staging.Batch, warehouse.TableSpecSnapshot, error) {

	stream.mutex.Lock()
	defer stream.mutex.Unlock()

	snapshot := warehouse.TableSpecSnapshot{
		Spec:            stream.spec(),
		ActivateVersion: stream.pendingVersion,
	}
	stream.pendingVersion = nil

	if stream.writer == nil {
		return nil, snapshot, nil
	}

	batch, err := stream.writer.Seal()
	if err != nil {
		return nil, snapshot, err
	}
	stream.writer = r.newWriter(stream)
	return batch, snapshot, nil
}

func (r *Registry) newWriter(
	stream *Stream,
) *staging.Writer {

	return staging.NewWriter(
		r.scratchDir, stream.TableName, r.config.Compression, r.config.Slices,
	)
}

func equalColumns(
	this, that *schemamodel.FlatSchema,
) bool {

	if this.Len() != that.Len() {
		return false
	}
	thisColumns, thatColumns := this.Columns(), that.Columns()
	for i := range thisColumns {
		if thisColumns[i].Name != thatColumns[i].Name ||
			thisColumns[i].Type.SqlType != thatColumns[i].Type.SqlType {
			return false
		}
	}
	return true
}
