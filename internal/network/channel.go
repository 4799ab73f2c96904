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

package network

import (
	"bufio"
	"io"
	"weak"

	"golang.org/x/crypto/ssh"

	"tunnelpilot/internal/async"
	"tunnelpilot/internal/core"
)

// ChannelOutputHandler receives bytes read from the channel's stdout or
// stderr stream. Invoked only from the owning session's ProcessingThread.
type ChannelOutputHandler func(data []byte, isStderr bool)

// ChannelExitHandler is invoked once when the remote command exits, with
// the reason and, for a normal exit, its status code.
type ChannelExitHandler func(reason core.CompletionReason, exitCode int, err error)

// Channel is a PTY-backed SSH session channel. It holds only a weak
// reference back to the SshSession that owns it, so the channel can never
// be the reason a session outlives its intended lifetime.
type Channel struct {
	id      core.ChannelId
	session weak.Pointer[SshSession]
	native  *ssh.Session

	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bufio.Reader

	writeStrand *async.ProcessingStrand

	outputHandler ChannelOutputHandler
	exitHandler   ChannelExitHandler

	pollTaskID  async.PermanentTaskID
	hasPollTask bool
	exited      bool
	closed      bool
}

func newChannel(id core.ChannelId, owner *SshSession, native *ssh.Session, stdin io.WriteCloser, stdout, stderr io.Reader, startPolling bool) *Channel {
	ch := &Channel{
		id:          id,
		session:     weak.Make(owner),
		native:      native,
		stdin:       stdin,
		stdout:      bufio.NewReader(stdout),
		stderr:      bufio.NewReader(stderr),
		writeStrand: async.NewProcessingStrand(owner.processingThread()),
	}

	if startPolling {
		owner.thread.PushTask(func() { ch.startPolling(owner) })
	}
	return ch
}

// ID returns the channel's opaque id.
func (c *Channel) ID() core.ChannelId { return c.id }

// OnOutput registers the callback invoked with bytes read from stdout or
// stderr. Must be called from the owning session's thread.
func (c *Channel) OnOutput(handler ChannelOutputHandler) { c.outputHandler = handler }

// OnExit registers the callback invoked once the remote command exits.
func (c *Channel) OnExit(handler ChannelExitHandler) { c.exitHandler = handler }

// startPolling installs the permanent polling task that drains whatever is
// currently buffered on stdout/stderr without blocking the thread — spec
// §4.3's requirement that channel I/O never stalls the shared thread.
func (c *Channel) startPolling(owner *SshSession) {
	accepted, id := owner.thread.PushPermanentTask(func() { c.pollOnce(owner) })
	if accepted {
		c.pollTaskID = id
		c.hasPollTask = true
	}
}

func (c *Channel) pollOnce(owner *SshSession) {
	if c.exited {
		return
	}
	c.drain(c.stdout, false)
	c.drain(c.stderr, true)

	if err := c.native.Wait(); err != nil {
		c.finishOnExit(owner, err)
		return
	}
}

func (c *Channel) drain(r *bufio.Reader, isStderr bool) {
	for {
		n := r.Buffered()
		if n == 0 {
			return
		}
		buf := make([]byte, n)
		read, err := r.Read(buf)
		if read > 0 && c.outputHandler != nil {
			c.outputHandler(buf[:read], isStderr)
		}
		if err != nil {
			return
		}
	}
}

func (c *Channel) finishOnExit(owner *SshSession, waitErr error) {
	if c.exited {
		return
	}
	c.exited = true

	reason := core.ReasonCompleted
	exitCode := 0
	var resultErr error

	if exitErr, ok := waitErr.(*ssh.ExitError); ok {
		exitCode = exitErr.ExitStatus()
		if exitCode != 0 {
			reason = core.ReasonFailed
		}
	} else if waitErr != nil {
		reason = core.ReasonFailed
		resultErr = waitErr
	}

	if c.exitHandler != nil {
		c.exitHandler(reason, exitCode, resultErr)
	}

	owner.channelRemoveItself(c)
}

// Write queues data to be written to the remote stdin, preserving caller
// order even across repeated calls, via the channel's own write strand.
func (c *Channel) Write(data []byte) *async.Future[int] {
	return async.PushStrandPromiseTask(c.writeStrand, func() (int, error) {
		return c.stdin.Write(data)
	})
}

// Resize requests a new terminal size for the PTY.
func (c *Channel) Resize(rows, columns int) *async.Future[struct{}] {
	owner := c.session.Value()
	if owner == nil {
		f := async.NewFuture[struct{}]()
		return f
	}
	return async.PushPromiseTask(owner.thread, func() (struct{}, error) {
		return struct{}{}, c.native.WindowChange(rows, columns)
	})
}

// Close requests removal of this channel from its owning session. Safe to
// call more than once and from outside the owning thread.
func (c *Channel) Close() {
	owner := c.session.Value()
	if owner == nil {
		return
	}
	owner.channelRemoveItself(c)
}

// teardown performs the actual native close; only ever invoked from the
// owning session's thread during the removal protocol.
func (c *Channel) teardown() {
	if c.closed {
		return
	}
	c.closed = true
	if c.hasPollTask {
		owner := c.session.Value()
		if owner != nil {
			owner.thread.RemovePermanentTask(c.pollTaskID)
		}
	}
	_ = c.native.Close()
}
