package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch reports a known host presenting a different key.
var ErrHostKeyMismatch = errors.New("host key mismatch")

// NewHostKeyCallback checks host keys against the known_hosts file at path,
// appending unknown hosts on first contact. An empty path disables checking.
// The file and its directory are created when missing.
func NewHostKeyCallback(path string, log zerolog.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		log.Warn().Msg("ssh host key checking disabled")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Explicitly configured.
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating known_hosts directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("creating known_hosts file: %w", err)
	}
	_ = f.Close()

	known, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("%w for %s (possible MITM): %w", ErrHostKeyMismatch, hostname, err)
		}

		mu.Lock()
		defer mu.Unlock()

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
		if err != nil {
			return fmt.Errorf("opening known_hosts for writing: %w", err)
		}
		defer f.Close()

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("writing to known_hosts: %w", err)
		}

		log.Info().
			Str("host", hostname).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Str("path", path).
			Msg("ssh host key added")
		return nil
	}, nil
}
