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

package database

import "time"

type Row interface {
	Scan(dest ...any) error
}

// Session is one short-lived warehouse connection, scoped to a callback.
type Session interface {
	QueryFunc(
		fn func(row Row) error, query string, args ...any,
	) error
	QueryRow(
		query string, args ...any,
	) Row
	Exec(
		query string, args ...any,
	) error
}

// Connector opens sessions against the warehouse. One session maps to one
// connection, so each in-flight flush holds exactly one.
type Connector interface {
	NewSession(
		timeout time.Duration, fn func(session Session) error,
	) error
}
