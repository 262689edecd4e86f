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

package staging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/go-errors/errors"
	"github.com/hashicorp/go-uuid"
	"github.com/klauspost/compress/gzip"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
)

// NewScratchDir creates the per-run scratch directory under the configured
// temp location.
func NewScratchDir(
	baseDir string,
) (string, error) {

	dir, err := os.MkdirTemp(baseDir, "target-redshift-")
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return dir, nil
}

// Sweep removes the scratch directory and everything staged below it.
func Sweep(
	dir string,
) error {

	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// Batch is a sealed set of staged slice files ready to be loaded.
type Batch struct {
	Table       string
	ID          string
	Paths       []string
	Rows        int64
	Bytes       int64
	Compression spiconfig.CompressionType
}

// Dispose deletes the staged files after a successful load.
func (b *Batch) Dispose() error {
	for _, path := range b.Paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, 0)
		}
	}
	return nil
}

// Writer owns the open staging files of one stream batch. Files are created
// lazily on the first appended row. With slices > 1, each row goes to the
// currently smallest slice so the staged objects stay near-equal in size.
type Writer struct {
	dir         string
	table       string
	compression spiconfig.CompressionType
	sliceCount  int

	id     string
	slices []*sliceWriter
	rows   int64
	bytes  int64
}

type sliceWriter struct {
	path       string
	file       *os.File
	compressor io.WriteCloser
	buffered   *bufio.Writer
	bytes      int64
}

func NewWriter(
	dir, table string, compression spiconfig.CompressionType, sliceCount int,
) *Writer {

	if sliceCount < 1 {
		sliceCount = 1
	}
	return &Writer{
		dir:         dir,
		table:       table,
		compression: compression,
		sliceCount:  sliceCount,
	}
}

func (w *Writer) Append(
	row []byte,
) error {

	if w.slices == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	target := w.slices[0]
	for _, candidate := range w.slices[1:] {
		if candidate.bytes < target.bytes {
			target = candidate
		}
	}

	if _, err := target.buffered.Write(row); err != nil {
		return errors.Wrap(err, 0)
	}
	target.bytes += int64(len(row))
	w.rows++
	w.bytes += int64(len(row))
	return nil
}

func (w *Writer) Rows() int64 {
	return w.rows
}

func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Seal closes the staged files and hands them over as a Batch. A writer
// without rows seals to nil. The writer must not be reused afterwards.
func (w *Writer) Seal() (*Batch, error) {
	if w.slices == nil || w.rows == 0 {
		w.discard()
		return nil, nil
	}

	paths := make([]string, 0, len(w.slices))
	for _, slice := range w.slices {
		if err := slice.close(); err != nil {
			return nil, err
		}
		paths = append(paths, slice.path)
	}

	batch := &Batch{
		Table:       w.table,
		ID:          w.id,
		Paths:       paths,
		Rows:        w.rows,
		Bytes:       w.bytes,
		Compression: w.compression,
	}
	w.slices = nil
	return batch, nil
}

// discard drops an empty writer's files, if any were already created.
func (w *Writer) discard() {
	for _, slice := range w.slices {
		_ = slice.close()
		_ = os.Remove(slice.path)
	}
	w.slices = nil
}

func (w *Writer) open() error {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return errors.Wrap(err, 0)
	}
	w.id = id

	slices := make([]*sliceWriter, 0, w.sliceCount)
	for i := 0; i < w.sliceCount; i++ {
		name := fmt.Sprintf("%s_%s%s", w.table, w.id, extension(w.compression))
		if w.sliceCount > 1 {
			name = fmt.Sprintf("%s_%s_part_%05d%s", w.table, w.id, i, extension(w.compression))
		}

		slice, err := newSliceWriter(filepath.Join(w.dir, name), w.compression)
		if err != nil {
			for _, opened := range slices {
				_ = opened.close()
				_ = os.Remove(opened.path)
			}
			return err
		}
		slices = append(slices, slice)
	}
	w.slices = slices
	return nil
}

func newSliceWriter(
	path string, compression spiconfig.CompressionType,
) (*sliceWriter, error) {

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	slice := &sliceWriter{
		path: path,
		file: file,
	}

	switch compression {
	case spiconfig.CompressionGzip:
		slice.compressor = gzip.NewWriter(file)
		slice.buffered = bufio.NewWriter(slice.compressor)
	case spiconfig.CompressionBzip2:
		compressor, err := bzip2.NewWriter(file, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, 0)
		}
		slice.compressor = compressor
		slice.buffered = bufio.NewWriter(compressor)
	default:
		slice.buffered = bufio.NewWriter(file)
	}
	return slice, nil
}

func (s *sliceWriter) close() error {
	if s.file == nil {
		return nil
	}
	if err := s.buffered.Flush(); err != nil {
		return errors.Wrap(err, 0)
	}
	if s.compressor != nil {
		if err := s.compressor.Close(); err != nil {
			return errors.Wrap(err, 0)
		}
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, 0)
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, 0)
	}
	s.file = nil
	return nil
}

func extension(
	compression spiconfig.CompressionType,
) string {

	switch compression {
	case spiconfig.CompressionGzip:
		return ".csv.gz"
	case spiconfig.CompressionBzip2:
		return ".csv.bz2"
	default:
		return ".csv"
	}
}
