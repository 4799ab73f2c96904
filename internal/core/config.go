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

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SshSessionConfig is the per-session configuration tree from spec §6.
// There is deliberately no (de)serialization here: loading/saving this
// from disk is an external collaborator's job (persistence is out of
// scope), so callers build this struct directly.
type SshSessionConfig struct {
	Host string
	Port int
	User string

	SshKey string

	TryAgentForAuthentication bool
	UsePublicKeyAutoAuth      bool

	KnownHostsFile    string
	SshDirectory      string
	StrictHostKeyCheck bool
	BypassConfig      bool

	ConnectTimeoutSeconds  int
	ConnectTimeoutUSeconds int

	KeyExchangeAlgorithms     []string
	CompressionClientToServer bool
	CompressionServerToClient bool
	CompressionLevel          int

	ProxyCommand   string
	IdentityAgent  string
	NoDelay        bool

	GssapiServerIdentity      string
	GssapiClientIdentity      string
	GssapiDelegateCredentials bool

	LogVerbosity int
}

// ConnectTimeout folds the seconds/microseconds pair from spec §6 into a
// single time.Duration for use with the ssh client config.
func (c SshSessionConfig) ConnectTimeout() time.Duration {
	d := time.Duration(c.ConnectTimeoutSeconds) * time.Second
	d += time.Duration(c.ConnectTimeoutUSeconds) * time.Microsecond
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Address renders host:port for ssh.Dial.
func (c SshSessionConfig) Address() string {
	host := c.Host
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ExpandedSshDirectory resolves "~" in SshDirectory to the user's home.
func (c SshSessionConfig) ExpandedSshDirectory() string {
	dir := c.SshDirectory
	if dir == "" {
		dir = "~/.ssh"
	}
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// ExpandedKnownHostsFile resolves KnownHostsFile, defaulting under the ssh
// directory when unset.
func (c SshSessionConfig) ExpandedKnownHostsFile() string {
	if c.KnownHostsFile != "" {
		if strings.HasPrefix(c.KnownHostsFile, "~") {
			home, err := os.UserHomeDir()
			if err == nil {
				return filepath.Join(home, strings.TrimPrefix(c.KnownHostsFile, "~"))
			}
		}
		return c.KnownHostsFile
	}
	return filepath.Join(c.ExpandedSshDirectory(), "known_hosts")
}

// PtyOptions configures a createPtyChannel request (spec §4.3).
type PtyOptions struct {
	Environment   map[string]string
	TerminalType  string
	Columns       int
	Rows          int
	RequestShell  bool
}

// DefaultPtyOptions mirrors the spec defaults: xterm-256color, 80x24,
// with a shell requested.
func DefaultPtyOptions() PtyOptions {
	return PtyOptions{
		TerminalType: "xterm-256color",
		Columns:      80,
		Rows:         24,
		RequestShell: true,
	}
}

// TransferOptions overlays per-operation behaviour on top of session
// defaults (spec §6).
type TransferOptions struct {
	TempFileSuffix      string
	MayOverwrite        bool
	ReserveSpace        bool
	TryContinue         bool
	InheritPermissions  bool
	DoCleanup           bool
	CustomPermissions   *os.FileMode
}

// DefaultTransferOptions mirrors the spec defaults, including the
// DoCleanup=true default and the sanitized fallback suffix.
func DefaultTransferOptions() TransferOptions {
	return TransferOptions{
		TempFileSuffix: ".filepart",
		DoCleanup:      true,
	}
}

// Sanitized returns a copy with TempFileSuffix repaired per invariant 6:
// non-empty and free of path separators, else replaced by ".filepart".
func (t TransferOptions) Sanitized() TransferOptions {
	suffix := t.TempFileSuffix
	if suffix == "" || strings.ContainsAny(suffix, "/\\") {
		suffix = ".filepart"
	}
	t.TempFileSuffix = suffix
	return t
}

// Overlay returns a copy of defaults with any non-zero-value field from
// override applied on top; DoCleanup is always taken from override, false
// included. This matches spec §4.12's "overlay session-level
// options onto per-operation defaults".
func (t TransferOptions) Overlay(override TransferOptions) TransferOptions {
	result := t
	if override.TempFileSuffix != "" {
		result.TempFileSuffix = override.TempFileSuffix
	}
	result.MayOverwrite = override.MayOverwrite || result.MayOverwrite
	result.ReserveSpace = override.ReserveSpace || result.ReserveSpace
	result.TryContinue = override.TryContinue || result.TryContinue
	result.InheritPermissions = override.InheritPermissions || result.InheritPermissions
	if override.CustomPermissions != nil {
		result.CustomPermissions = override.CustomPermissions
	}
	result.DoCleanup = override.DoCleanup
	return result.Sanitized()
}

// SftpOptions configures one SFTP sub-session's queue (spec §6).
type SftpOptions struct {
	OperationTimeout time.Duration
	Concurrency      int
	DownloadOptions  TransferOptions
	UploadOptions    TransferOptions
}

// DefaultSftpOptions mirrors spec defaults: concurrency=1.
func DefaultSftpOptions() SftpOptions {
	return SftpOptions{
		OperationTimeout: 8 * time.Second,
		Concurrency:      1,
		DownloadOptions:  DefaultTransferOptions(),
		UploadOptions:    DefaultTransferOptions(),
	}
}

// DefaultFutureTimeout is the 5-10s bound from spec §5, used wherever an
// operation blocks a driver thread on a strand-bound future.
const DefaultFutureTimeout = 5 * time.Second
