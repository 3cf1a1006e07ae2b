// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pbench/tool-meister-start/internal/model"
)

// defaultSSHPort is the standard secure-shell port used to reach
// remote hosts. The bus port (busconfig.Port) is unrelated and passed
// as a launch argument, not a dial target.
const defaultSSHPort = 22

// SSHLauncher is the concrete RemoteLauncher: it dials each host with
// golang.org/x/crypto/ssh and runs the remote tool-meister-remote
// launcher as a single command. Authenticating the dial (key
// selection, host-key verification policy) is the caller's concern —
// per §1's Non-goals, the coordinator does not implement user
// authentication; it only wires an already-configured client.
type SSHLauncher struct {
	User            string
	Signers         []ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
	Port            int           // secure-shell port; defaults to 22
	DialTimeout     time.Duration // defaults to 10s
}

// Launch dials host, runs remotePath with the argument vector
// (controllerFQDN, port, meisterParamKey), and waits for it to exit.
// A dial failure is wrapped in model.ErrDialFailed; a successful dial
// followed by a nonzero remote exit is wrapped in model.ErrRemoteExit,
// preserving the distinction the spec's §9 design notes call out even
// though the coordinator's exit code ultimately collapses both.
func (l *SSHLauncher) Launch(ctx context.Context, host, remotePath, controllerFQDN string, port int, meisterParamKey string) error {
	sshPort := l.Port
	if sshPort == 0 {
		sshPort = defaultSSHPort
	}
	timeout := l.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	config := &ssh.ClientConfig{
		User:            l.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(l.Signers...)},
		HostKeyCallback: l.HostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(sshPort))
	client, err := dialContext(ctx, addr, config)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrDialFailed, addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: %s: opening session: %v", model.ErrDialFailed, addr, err)
	}
	defer session.Close()

	command := strings.Join([]string{
		remotePath,
		controllerFQDN,
		strconv.Itoa(port),
		meisterParamKey,
	}, " ")

	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return model.ErrRemoteExit{Code: exitErr.ExitStatus()}
		}
		return fmt.Errorf("%w: %s: %v", model.ErrDialFailed, addr, err)
	}

	return nil
}

// dialContext dials an SSH connection honoring ctx cancellation
// alongside config.Timeout, since ssh.Dial itself does not accept a
// context.
func dialContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)

	go func() {
		client, err := ssh.Dial("tcp", addr, config)
		done <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}
