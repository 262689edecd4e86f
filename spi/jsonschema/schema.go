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

package jsonschema

import (
	"fmt"
	"sort"

	"github.com/go-errors/errors"
	"github.com/samber/lo"
)

// Schema is the tagged representation of a JSON-Schema node, carrying only
// the fields the flattening and type mapping pipeline consumes.
type Schema struct {
	Types      []string
	Format     string
	MaxLength  int
	Properties map[string]*Schema
	Items      *Schema
	AnyOf      []*Schema
	OneOf      []*Schema
}

// Parse lowers the raw SCHEMA message payload into Schema nodes. Recursive
// schema documents are rejected via a visited set.
func Parse(
	raw map[string]any,
) (*Schema, error) {

	return parseNode(raw, map[string]bool{})
}

func parseNode(
	raw map[string]any, visited map[string]bool,
) (*Schema, error) {

	nodeId := fmt.Sprintf("%p", raw)
	if visited[nodeId] {
		return nil, errors.Errorf("recursive schemas are unsupported")
	}
	visited[nodeId] = true
	defer delete(visited, nodeId)

	node := &Schema{}

	switch t := raw["type"].(type) {
	case string:
		node.Types = []string{t}
	case []any:
		for _, entry := range t {
			if s, ok := entry.(string); ok {
				node.Types = append(node.Types, s)
			}
		}
	}

	if format, ok := raw["format"].(string); ok {
		node.Format = format
	}

	if maxLength, ok := raw["maxLength"].(float64); ok {
		node.MaxLength = int(maxLength)
	}

	if properties, ok := raw["properties"].(map[string]any); ok {
		node.Properties = make(map[string]*Schema, len(properties))
		for name, prop := range properties {
			propMap, ok := prop.(map[string]any)
			if !ok {
				return nil, errors.Errorf("schema property %s is not an object", name)
			}
			child, err := parseNode(propMap, visited)
			if err != nil {
				return nil, err
			}
			node.Properties[name] = child
		}
	}

	if items, ok := raw["items"].(map[string]any); ok {
		child, err := parseNode(items, visited)
		if err != nil {
			return nil, err
		}
		node.Items = child
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := raw[key].([]any)
		if !ok {
			continue
		}
		parsed := make([]*Schema, 0, len(branches))
		for _, branch := range branches {
			branchMap, ok := branch.(map[string]any)
			if !ok {
				continue
			}
			child, err := parseNode(branchMap, visited)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, child)
		}
		if key == "anyOf" {
			node.AnyOf = parsed
		} else {
			node.OneOf = parsed
		}
	}

	return node, nil
}

// Resolve collapses anyOf/oneOf wrappers to the first branch that is not
// purely null.
func (s *Schema) Resolve() *Schema {
	branches := s.AnyOf
	if len(branches) == 0 {
		branches = s.OneOf
	}
	for _, branch := range branches {
		resolved := branch.Resolve()
		if resolved.PrimaryType() != "" {
			return resolved
		}
	}
	return s
}

// PrimaryType returns the first non-null type entry, or the empty string
// when the node declares no usable type.
func (s *Schema) PrimaryType() string {
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

func (s *Schema) Nullable() bool {
	return lo.Contains(s.Types, "null")
}

func (s *Schema) HasProperties() bool {
	return len(s.Properties) > 0
}

// PropertyNames returns the property names in deterministic (sorted) order.
func (s *Schema) PropertyNames() []string {
	names := lo.Keys(s.Properties)
	sort.Strings(names)
	return names
}
