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

// Package manager hosts the session registry and the authentication
// provider chain used to assemble an ssh.ClientConfig before a session
// connects.
package manager

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"tunnelpilot/internal/core"
)

// PasswordProvider is asked for a password for (user, host, port) when the
// key-based methods are unavailable or rejected. An AuthChain holds a
// single provider, with no fallback to another one when it declines; an
// answer with ok=true is cached per (user, host, port) for the lifetime of
// the AuthChain.
type PasswordProvider interface {
	Password(user, host string, port int) (password string, ok bool)
}

// PassphraseProvider supplies the passphrase for an encrypted private key
// file, given its path.
type PassphraseProvider interface {
	Passphrase(keyPath string) (passphrase string, ok bool)
}

// passwordCacheKey identifies a cached credential.
type passwordCacheKey struct {
	user string
	host string
	port int
}

// AuthChain assembles ssh.AuthMethod values in priority order: agent,
// then either the explicit key file (when one is configured) or automatic
// public-key discovery under ~/.ssh, never both, then an interactive
// password provider. This mirrors the layered auth setup
// in the mgmt project's etcd-over-ssh world, generalized to a reusable
// chain instead of one fixed World type.
type AuthChain struct {
	log                logrus.FieldLogger
	passphraseProvider PassphraseProvider
	passwordProvider   PasswordProvider

	passwordCache map[passwordCacheKey]string
}

// NewAuthChain builds a chain; either provider may be nil to disable that
// stage.
func NewAuthChain(log logrus.FieldLogger, passphrase PassphraseProvider, password PasswordProvider) *AuthChain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthChain{
		log:                log,
		passphraseProvider: passphrase,
		passwordProvider:   password,
		passwordCache:      make(map[passwordCacheKey]string),
	}
}

// Assemble builds the ordered []ssh.AuthMethod for cfg, honoring which
// stages cfg enables.
func (a *AuthChain) Assemble(cfg core.SshSessionConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.TryAgentForAuthentication {
		if m, err := a.agentMethod(cfg); err == nil && m != nil {
			methods = append(methods, m)
		} else if err != nil {
			a.log.Debugf("ssh agent unavailable: %v", err)
		}
	}

	if cfg.SshKey != "" {
		if m, err := a.explicitKeyMethod(cfg.SshKey); err != nil {
			a.log.Warnf("explicit key %s unusable: %v", cfg.SshKey, err)
		} else {
			methods = append(methods, m)
		}
	} else if cfg.UsePublicKeyAutoAuth {
		signers, err := a.autoDiscoverSigners(cfg.ExpandedSshDirectory())
		if err != nil {
			a.log.Debugf("public key auto-discovery failed: %v", err)
		} else if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if a.passwordProvider != nil {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			return a.passwordFor(cfg)
		}))
	}

	if len(methods) == 0 {
		return nil, core.ErrNoAuthMethods
	}
	return methods, nil
}

func (a *AuthChain) agentMethod(cfg core.SshSessionConfig) (ssh.AuthMethod, error) {
	socket := cfg.IdentityAgent
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil, errors.New("no SSH_AUTH_SOCK set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, errors.Wrap(err, "dialing ssh-agent socket")
	}
	client := agent.NewClient(conn)
	return ssh.PublicKeysCallback(client.Signers), nil
}

func (a *AuthChain) explicitKeyMethod(path string) (ssh.AuthMethod, error) {
	signer, err := a.keySigner(path)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func (a *AuthChain) keySigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading key file %s", path)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}

	if _, ok := err.(*ssh.PassphraseMissingError); !ok {
		return nil, errors.Wrapf(err, "parsing key file %s", path)
	}
	if a.passphraseProvider == nil {
		return nil, fmt.Errorf("key %s is encrypted and no passphrase provider is configured", path)
	}
	passphrase, ok := a.passphraseProvider.Passphrase(path)
	if !ok {
		return nil, fmt.Errorf("no passphrase supplied for %s", path)
	}
	return ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
}

// autoDiscoverSigners walks sshDir looking for id_* private keys with a
// matching .pub sibling, the same heuristic the mgmt project's ssh world
// uses for "use whatever key is lying around".
func (a *AuthChain) autoDiscoverSigners(sshDir string) ([]ssh.Signer, error) {
	entries, err := os.ReadDir(sshDir)
	if err != nil {
		return nil, err
	}

	var signers []ssh.Signer
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "id_") || strings.HasSuffix(name, ".pub") {
			continue
		}
		path := filepath.Join(sshDir, name)
		if _, err := os.Stat(path + ".pub"); err != nil {
			continue
		}
		signer, err := a.keySigner(path)
		if err != nil {
			a.log.Debugf("skipping candidate key %s: %v", path, err)
			continue
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func (a *AuthChain) passwordFor(cfg core.SshSessionConfig) (string, error) {
	key := passwordCacheKey{user: cfg.User, host: cfg.Host, port: cfg.Port}
	if cached, ok := a.passwordCache[key]; ok {
		return cached, nil
	}
	password, ok := a.passwordProvider.Password(cfg.User, cfg.Host, cfg.Port)
	if !ok {
		return "", core.ErrAuthFailed
	}
	a.passwordCache[key] = password
	return password, nil
}
