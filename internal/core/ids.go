/*
 * Copyright 2026 The FileRipper Team
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import "github.com/google/uuid"

// SessionId, ChannelId and OperationId are opaque, stringly-typed
// identifiers. Equality and hashing are defined on the underlying string,
// so they work as map keys out of the box. The zero value of each is the
// "invalid" sentinel used for default construction.
type SessionId string

// ChannelId identifies one interactive PTY channel on a session.
type ChannelId string

// OperationId identifies one queued file-transfer operation.
type OperationId string

// NewSessionId mints a fresh, globally unique session id.
func NewSessionId() SessionId { return SessionId(uuid.NewString()) }

// NewChannelId mints a fresh, globally unique channel id.
func NewChannelId() ChannelId { return ChannelId(uuid.NewString()) }

// NewOperationId mints a fresh, globally unique operation id.
func NewOperationId() OperationId { return OperationId(uuid.NewString()) }

// IsValid reports whether the id was actually minted, as opposed to being
// a zero-value sentinel.
func (id SessionId) IsValid() bool { return id != "" }

// IsValid reports whether the id was actually minted, as opposed to being
// a zero-value sentinel.
func (id ChannelId) IsValid() bool { return id != "" }

// IsValid reports whether the id was actually minted, as opposed to being
// a zero-value sentinel.
func (id OperationId) IsValid() bool { return id != "" }

func (id SessionId) String() string   { return string(id) }
func (id ChannelId) String() string   { return string(id) }
func (id OperationId) String() string { return string(id) }
