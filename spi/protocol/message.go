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

package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

type MessageType string

const (
	SchemaMessage          MessageType = "SCHEMA"
	RecordMessage          MessageType = "RECORD"
	StateMessage           MessageType = "STATE"
	ActivateVersionMessage MessageType = "ACTIVATE_VERSION"
)

// Message is one line of the tap-to-target protocol.
type Message struct {
	Type          MessageType     `json:"type"`
	Stream        string          `json:"stream"`
	Schema        map[string]any  `json:"schema"`
	KeyProperties *[]string       `json:"key_properties"`
	Record        map[string]any  `json:"record"`
	TimeExtracted string          `json:"time_extracted"`
	Version       *int64          `json:"version"`
	Value         json.RawMessage `json:"value"`
}

// ProtocolError terminates the engine with a non-zero exit code. It covers
// malformed input lines, unknown message types, and messages violating the
// SCHEMA-before-RECORD contract.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

func Errorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Detail: fmt.Sprintf(format, args...)}
}

// ParseMessage decodes a single protocol line and validates the fields
// required for its message type.
func ParseMessage(
	line []byte,
) (*Message, error) {

	msg := &Message{}
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, Errorf("unable to parse message: %s", err.Error())
	}

	switch msg.Type {
	case SchemaMessage:
		if msg.Stream == "" {
			return nil, Errorf("SCHEMA message is missing the stream name")
		}
		if msg.Schema == nil {
			return nil, Errorf("SCHEMA message for stream %s is missing the schema", msg.Stream)
		}
		if msg.KeyProperties == nil {
			return nil, Errorf("SCHEMA message for stream %s is missing key_properties", msg.Stream)
		}
	case RecordMessage:
		if msg.Stream == "" {
			return nil, Errorf("RECORD message is missing the stream name")
		}
		if msg.Record == nil {
			return nil, Errorf("RECORD message for stream %s is missing the record", msg.Stream)
		}
	case StateMessage:
		if len(msg.Value) == 0 {
			return nil, Errorf("STATE message is missing the value")
		}
	case ActivateVersionMessage:
		if msg.Stream == "" {
			return nil, Errorf("ACTIVATE_VERSION message is missing the stream name")
		}
		if msg.Version == nil {
			return nil, Errorf("ACTIVATE_VERSION message for stream %s is missing the version", msg.Stream)
		}
	default:
		return nil, Errorf("unknown message type: %s", msg.Type)
	}
	return msg, nil
}
