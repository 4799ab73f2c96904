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

// Package tunnelpilot is a multi-session SSH/SFTP client library: connect
// several hosts concurrently, open interactive PTY channels on them, and
// queue resumable file transfers that run in the background against a
// cooperative per-session scheduler instead of one goroutine per transfer.
//
// A Client owns the session registry. Each Session wraps one authenticated
// connection plus its PTY channels and SFTP queues.
package tunnelpilot

import (
	"github.com/sirupsen/logrus"

	"tunnelpilot/internal/core"
	"tunnelpilot/internal/manager"
	"tunnelpilot/internal/network"
	"tunnelpilot/internal/pfte"
)

// Re-exported leaf types, so callers only ever import this one package for
// everyday use.
type (
	SessionConfig   = core.SshSessionConfig
	PtyOptions      = core.PtyOptions
	TransferOptions = core.TransferOptions
	SftpOptions     = core.SftpOptions
	SessionId       = core.SessionId
	ChannelId       = core.ChannelId
	OperationId     = core.OperationId
	OperationAdded  = pfte.OperationAdded
	OperationDone   = pfte.OperationCompleted
	BulkProgress    = pfte.BulkProgress
	Channel         = network.Channel
)

// Client is the top-level entry point: a registry of connected sessions
// sharing one authentication chain.
type Client struct {
	log     logrus.FieldLogger
	manager *manager.SessionManager
}

// NewClient builds a Client. Either provider may be nil to disable that
// authentication stage entirely.
func NewClient(log logrus.FieldLogger, passphrase manager.PassphraseProvider, password manager.PasswordProvider) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	chain := manager.NewAuthChain(log, passphrase, password)
	return &Client{log: log, manager: manager.NewSessionManager(log, chain)}
}

// Connect dials cfg and returns a Session wrapping the new connection.
func (c *Client) Connect(cfg SessionConfig) (*Session, error) {
	sshSession, err := c.manager.Connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Session{log: c.log, native: sshSession}, nil
}

// Lookup finds a previously connected session by id.
func (c *Client) Lookup(id SessionId) (*Session, bool) {
	sshSession, ok := c.manager.Lookup(id)
	if !ok {
		return nil, false
	}
	return &Session{log: c.log, native: sshSession}, true
}

// Disconnect tears down and forgets one session.
func (c *Client) Disconnect(id SessionId) error { return c.manager.Disconnect(id) }

// DisconnectAll tears down every connected session.
func (c *Client) DisconnectAll() error { return c.manager.DisconnectAll() }

// Sessions lists the ids of every currently connected session.
func (c *Client) Sessions() []SessionId { return c.manager.Sessions() }
