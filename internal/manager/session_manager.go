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

package manager

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tunnelpilot/internal/core"
	"tunnelpilot/internal/network"
)

// SessionManager is the top-level registry of live SshSessions, keyed by
// SessionId. It owns the auth chain used to connect new sessions and
// guarantees that registration/removal never race a concurrent Connect.
type SessionManager struct {
	log       logrus.FieldLogger
	authChain *AuthChain

	mu       sync.Mutex
	sessions map[core.SessionId]*network.SshSession
}

// NewSessionManager builds an empty registry driven by authChain.
func NewSessionManager(log logrus.FieldLogger, authChain *AuthChain) *SessionManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionManager{
		log:       log,
		authChain: authChain,
		sessions:  make(map[core.SessionId]*network.SshSession),
	}
}

// Connect assembles auth methods for cfg, dials, and registers the new
// session under a freshly minted SessionId.
func (m *SessionManager) Connect(cfg core.SshSessionConfig) (*network.SshSession, error) {
	methods, err := m.authChain.Assemble(cfg)
	if err != nil {
		return nil, err
	}

	id := core.NewSessionId()
	sess := network.NewSshSession(id, cfg, m.log)
	if err := sess.Connect(methods); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Infof("session %s registered for %s@%s", id, cfg.User, cfg.Address())
	return sess, nil
}

// Lookup returns the session for id, if still registered.
func (m *SessionManager) Lookup(id core.SessionId) (*network.SshSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Disconnect tears down and unregisters a single session.
func (m *SessionManager) Disconnect(id core.SessionId) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return core.ErrSessionNotFound
	}
	return sess.Stop()
}

// DisconnectAll tears down every registered session in parallel — each
// session owns an independent processing thread, so their Stop calls never
// contend with each other — and collects every failure rather than
// stopping at the first one.
func (m *SessionManager) DisconnectAll() error {
	m.mu.Lock()
	sessions := make([]*network.SshSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[core.SessionId]*network.SshSession)
	m.mu.Unlock()

	var mu sync.Mutex
	var errs *multierror.Error

	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			if err := sess.Stop(); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errs.ErrorOrNil()
}

// Sessions returns a snapshot of currently registered session ids.
func (m *SessionManager) Sessions() []core.SessionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]core.SessionId, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
