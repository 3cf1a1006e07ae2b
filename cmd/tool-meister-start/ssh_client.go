// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/pbench/tool-meister-start/internal/spawn"
)

// newRemoteLauncher builds the secure-shell RemoteLauncher used to
// reach every non-local meister host. Key material comes from
// whatever agent SSH_AUTH_SOCK points at — provisioning credentials is
// explicitly out of scope (§1's Non-goals), so this is the thinnest
// binding that can authenticate a dial.
func newRemoteLauncher(logger *slog.Logger, user string) *spawn.SSHLauncher {
	var signers []ssh.Signer
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			logger.Warn("ssh: connecting to ssh-agent", "sock", sock, "error", err)
		} else {
			signers, err = agent.NewClient(conn).Signers()
			if err != nil {
				logger.Warn("ssh: reading ssh-agent signers", "error", err)
			}
		}
	}

	return &spawn.SSHLauncher{
		User:            user,
		Signers:         signers,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}
