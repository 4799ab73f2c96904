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

package tunnelpilot

import (
	"github.com/sirupsen/logrus"

	"tunnelpilot/internal/core"
	"tunnelpilot/internal/network"
)

// Session wraps one connected SshSession: the factory for PTY channels and
// for the transfer queues opened against SFTP sub-sessions.
type Session struct {
	log    logrus.FieldLogger
	native *network.SshSession
}

// ID returns the session's opaque id.
func (s *Session) ID() SessionId { return s.native.ID() }

// Config returns the configuration tree this session was connected with.
func (s *Session) Config() SessionConfig { return s.native.Config() }

// OpenShell opens an interactive PTY channel and blocks until it is ready
// or the default future timeout elapses.
func (s *Session) OpenShell(opts PtyOptions) (*Channel, error) {
	ch, err, _ := s.native.CreatePtyChannel(opts).Get(core.DefaultFutureTimeout)
	return ch, err
}

// OpenTransferQueue opens a new SFTP sub-session and wraps it in a
// Transfers queue driven by this session's own processing thread.
func (s *Session) OpenTransferQueue(opts SftpOptions) (*Transfers, error) {
	sftpSession, err, _ := s.native.CreateSftpSession(opts).Get(core.DefaultFutureTimeout)
	if err != nil {
		return nil, err
	}
	return newTransfers(sftpSession, opts), nil
}

// Disconnect tears the connection down; the owning Client should also be
// told via Client.Disconnect so it stops tracking the id.
func (s *Session) Disconnect() error { return s.native.Stop() }
