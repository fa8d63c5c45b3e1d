package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentAuthType selects the keys held by the running ssh-agent.
const AgentAuthType = "agent"

// AgentAvailable reports whether SSH_AUTH_SOCK points at an agent.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// AgentSigners returns every key the agent offers. The agent connection
// stays open for as long as the signers are in use.
func AgentSigners() ([]ssh.Signer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("ssh agent: SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "unix", sock)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	switch {
	case err != nil:
		err = fmt.Errorf("ssh agent signers: %w", err)
	case len(signers) == 0:
		err = errors.New("ssh agent: no keys loaded")
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return signers, nil
}

// LoadPrivateKey parses an unencrypted OpenSSH or PEM private key file. A
// leading "~/" is expanded to the home directory.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	pem, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("ssh key %s: %w", path, err)
	}
	return signer, nil
}

// LoadSigners resolves a comma separated list of key sources, each either
// "agent" or a key file path. An empty source means no key authentication.
func LoadSigners(source string) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	for src := range strings.SplitSeq(source, ",") {
		src = strings.TrimSpace(src)
		switch src {
		case "":
			continue
		case AgentAuthType:
			s, err := AgentSigners()
			if err != nil {
				return nil, err
			}
			signers = append(signers, s...)
		default:
			s, err := LoadPrivateKey(src)
			if err != nil {
				return nil, err
			}
			signers = append(signers, s)
		}
	}
	return signers, nil
}

func expandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ssh key: %w", err)
	}
	return filepath.Join(home, rest), nil
}
