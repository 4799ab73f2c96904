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

// Package network implements the session/channel lifecycle layer: one
// SshSession owns a ProcessingThread plus the PTY channels and SFTP
// sub-sessions opened on it, and tears them down in a deterministic order
// before disconnecting. Every native handle below this package is only
// ever touched from the thread or strand that owns it.
package network

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"tunnelpilot/internal/async"
	"tunnelpilot/internal/core"
)

// defaultMinCycleWait and defaultPollTimeout are the processing-thread
// tuning constants from spec §4.3.
const (
	defaultMinCycleWait = time.Millisecond
	defaultPollTimeout  = 100 * time.Millisecond
)

// SshSession owns one authenticated connection and is the factory for PTY
// channels and SFTP sub-sessions. All of them run on its ProcessingThread.
type SshSession struct {
	id     core.SessionId
	config core.SshSessionConfig
	log    logrus.FieldLogger

	client *ssh.Client
	thread *async.ProcessingThread

	mu               sync.Mutex
	channels         map[core.ChannelId]*Channel
	channelsToRemove []*Channel
	sftpSessions     map[int]*SftpSession
	sftpToRemove     []*SftpSession
	nextSftpHandle   int

	stopped bool
}

// NewSshSession allocates a session wrapper; it does not connect.
func NewSshSession(id core.SessionId, cfg core.SshSessionConfig, log logrus.FieldLogger) *SshSession {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SshSession{
		id:           id,
		config:       cfg,
		log:          log.WithField("session", string(id)),
		channels:     make(map[core.ChannelId]*Channel),
		sftpSessions: make(map[int]*SftpSession),
	}
}

// ID returns the session's opaque id.
func (s *SshSession) ID() core.SessionId { return s.id }

// Config returns the session's configuration tree.
func (s *SshSession) Config() core.SshSessionConfig { return s.config }

// Connect dials the remote host with the given auth methods (assembled by
// the session manager's provider chain) and starts the processing thread.
func (s *SshSession) Connect(auth []ssh.AuthMethod) error {
	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return errors.Wrap(err, "host key callback setup failed")
	}

	clientConfig := &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.config.ConnectTimeout(),
	}
	if len(s.config.KeyExchangeAlgorithms) > 0 {
		clientConfig.KeyExchanges = s.config.KeyExchangeAlgorithms
	}

	addr := s.config.Address()
	s.log.Infof("dialing %s as %s", addr, s.config.User)

	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		s.log.Warnf("ssh dial failed: %v", err)
		return errors.Wrap(core.ErrConnectionFailed, err.Error())
	}
	s.client = client

	s.thread = async.NewProcessingThread(s.log)
	s.thread.Start(defaultMinCycleWait)
	s.log.Info("processing thread started")
	return nil
}

func (s *SshSession) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !s.config.StrictHostKeyCheck {
		log := s.log
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			log.Warnf("accepting unverified host key for %s (fingerprint %s)", hostname, s.fingerprint(key))
			return nil
		}, nil
	}
	path := s.config.ExpandedKnownHostsFile()
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading known_hosts at %s", path)
	}
	log := s.log
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		if err != nil {
			log.Warnf("host key rejected for %s (fingerprint %s): %v", hostname, s.fingerprint(key), err)
		}
		return err
	}, nil
}

// processingThread exposes the session's processing thread to sibling types in this
// package (Channel, SftpSession, FileStream).
func (s *SshSession) processingThread() *async.ProcessingThread { return s.thread }

func (s *SshSession) fingerprint(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return base64.StdEncoding.EncodeToString(sum[:])
}

// CreatePtyChannel opens a PTY channel per spec §4.3: session, env, PTY
// request, shell request, each step aborting on the first native error.
func (s *SshSession) CreatePtyChannel(opts core.PtyOptions) *async.Future[*Channel] {
	return async.PushPromiseTask(s.thread, func() (*Channel, error) {
		sess, err := s.client.NewSession()
		if err != nil {
			return nil, errors.Wrap(core.ErrConnectionFailed, "session open: "+err.Error())
		}

		for k, v := range opts.Environment {
			if err := sess.Setenv(k, v); err != nil {
				sess.Close()
				return nil, errors.Wrapf(err, "setenv %s", k)
			}
		}

		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty(opts.TerminalType, opts.Rows, opts.Columns, modes); err != nil {
			sess.Close()
			return nil, errors.Wrap(err, "request pty")
		}

		stdin, err := sess.StdinPipe()
		if err != nil {
			sess.Close()
			return nil, errors.Wrap(err, "stdin pipe")
		}
		stdout, err := sess.StdoutPipe()
		if err != nil {
			sess.Close()
			return nil, errors.Wrap(err, "stdout pipe")
		}
		stderr, err := sess.StderrPipe()
		if err != nil {
			sess.Close()
			return nil, errors.Wrap(err, "stderr pipe")
		}

		if opts.RequestShell {
			if err := sess.Shell(); err != nil {
				sess.Close()
				return nil, errors.Wrap(err, "request shell")
			}
		}

		id := core.NewChannelId()
		ch := newChannel(id, s, sess, stdin, stdout, stderr, true)

		s.mu.Lock()
		s.channels[id] = ch
		s.mu.Unlock()

		s.log.Infof("channel %s opened", id)
		return ch, nil
	})
}

// CreateSftpSession allocates a native SFTP client over the same SSH
// connection and wraps it in its own strand on this session's thread.
func (s *SshSession) CreateSftpSession(opts core.SftpOptions) *async.Future[*SftpSession] {
	return async.PushPromiseTask(s.thread, func() (*SftpSession, error) {
		client, err := sftp.NewClient(s.client)
		if err != nil {
			return nil, errors.Wrap(core.ErrConnectionFailed, "sftp init: "+err.Error())
		}

		s.mu.Lock()
		handle := s.nextSftpHandle
		s.nextSftpHandle++
		s.mu.Unlock()

		sess := newSftpSession(handle, s, client, opts, s.log)

		s.mu.Lock()
		s.sftpSessions[handle] = sess
		s.mu.Unlock()

		s.log.Info("sftp sub-session opened")
		return sess, nil
	})
}

// channelRemoveItself implements the two-step removal protocol from spec
// §4.3: the channel moves from the live map into the to-remove bucket
// immediately (so a caller can't observe it as live any more), and the
// actual teardown runs as a task so it never happens inside the calling
// stack of whatever triggered the removal (e.g. the channel's own polling
// permanent task noticing remote EOF).
func (s *SshSession) channelRemoveItself(ch *Channel) {
	s.mu.Lock()
	if _, ok := s.channels[ch.id]; ok {
		delete(s.channels, ch.id)
		s.channelsToRemove = append(s.channelsToRemove, ch)
	}
	s.mu.Unlock()

	s.thread.PushTask(func() {
		s.mu.Lock()
		toRemove := s.channelsToRemove
		s.channelsToRemove = nil
		s.mu.Unlock()

		for _, c := range toRemove {
			c.teardown()
		}
	})
}

func (s *SshSession) sftpSessionRemoveItself(sess *SftpSession) {
	s.mu.Lock()
	if _, ok := s.sftpSessions[sess.handle]; ok {
		delete(s.sftpSessions, sess.handle)
		s.sftpToRemove = append(s.sftpToRemove, sess)
	}
	s.mu.Unlock()

	s.thread.PushTask(func() {
		s.mu.Lock()
		toRemove := s.sftpToRemove
		s.sftpToRemove = nil
		s.mu.Unlock()

		for _, sess := range toRemove {
			sess.teardownNative()
		}
	})
}

// Stop tears down every channel and SFTP session owned by this session,
// in that order, before disconnecting — invariant 3. Errors from
// individual children are collected, not fatal to the others.
func (s *SshSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	channels := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		channels = append(channels, c)
	}
	s.channels = make(map[core.ChannelId]*Channel)
	sftpSessions := make([]*SftpSession, 0, len(s.sftpSessions))
	for _, sess := range s.sftpSessions {
		sftpSessions = append(sftpSessions, sess)
	}
	s.sftpSessions = make(map[int]*SftpSession)
	s.mu.Unlock()

	var errs *multierror.Error

	done := make(chan error, 1)
	s.thread.PushTask(func() {
		var inner *multierror.Error
		for _, c := range channels {
			c.teardown()
		}
		for _, sess := range sftpSessions {
			if err := sess.teardownNative(); err != nil {
				inner = multierror.Append(inner, err)
			}
		}
		if s.client != nil {
			if err := s.client.Close(); err != nil {
				inner = multierror.Append(inner, errors.Wrap(err, "ssh client close"))
			}
		}
		done <- inner.ErrorOrNil()
	})

	select {
	case err := <-done:
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	case <-time.After(10 * time.Second):
		errs = multierror.Append(errs, fmt.Errorf("timed out tearing down session %s", s.id))
	}

	s.thread.Stop()
	s.log.Info("session stopped")
	return errs.ErrorOrNil()
}
