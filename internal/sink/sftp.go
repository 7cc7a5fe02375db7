package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPSink writes the recording over SFTP under a temporary name and renames
// it on Close.
type SFTPSink struct {
	target remoteTarget
	opts   Options

	ssh    *ssh.Client
	client *sftp.Client
	file   *sftp.File
	temp   string
	done   bool
}

func newSFTPSink(target remoteTarget, opts Options) *SFTPSink {
	return &SFTPSink{target: target, opts: opts}
}

func (s *SFTPSink) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    s.target.username,
		Timeout: s.opts.Timeout,
	}

	switch {
	case s.target.password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(s.target.password)}
	case s.opts.KeyFile != "":
		key, err := os.ReadFile(expandHome(s.opts.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, errors.New("sftp: no authentication method provided")
	}

	if s.opts.InsecureIgnoreHostKey {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
		return config, nil
	}
	knownHosts := s.opts.KnownHostsFile
	if knownHosts == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sftp: cannot locate known_hosts: %w", err)
		}
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(expandHome(knownHosts))
	if err != nil {
		return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
	}
	config.HostKeyCallback = callback
	return config, nil
}

func (s *SFTPSink) connect() error {
	config, err := s.clientConfig()
	if err != nil {
		return err
	}
	conn, err := ssh.Dial("tcp", net.JoinHostPort(s.target.host, fmt.Sprint(s.target.port)), config)
	if err != nil {
		return fmt.Errorf("sftp: connection failed: %w", err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("sftp: failed to start session: %w", err)
	}

	dir := path.Dir(s.target.path)
	if err := client.MkdirAll(dir); err != nil {
		_ = client.Close()
		_ = conn.Close()
		return fmt.Errorf("sftp: failed to create directory %s: %w", dir, err)
	}

	s.temp = path.Join(dir, path.Base(tempName(s.target.path)))
	file, err := client.Create(s.temp)
	if err != nil {
		_ = client.Close()
		_ = conn.Close()
		return fmt.Errorf("sftp: failed to create file: %w", err)
	}

	s.ssh = conn
	s.client = client
	s.file = file
	return nil
}

func (s *SFTPSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, errAlreadyClosed
	}
	if s.file == nil {
		if err := s.connect(); err != nil {
			return 0, err
		}
	}
	n, err := s.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("sftp: failed to write file: %w", err)
	}
	return n, nil
}

// Close finishes the remote file and renames it into place.
func (s *SFTPSink) Close() error {
	if s.done {
		return errAlreadyClosed
	}
	if s.file == nil {
		if err := s.connect(); err != nil {
			s.done = true
			return err
		}
	}
	s.done = true
	defer s.disconnect()

	if err := s.file.Close(); err != nil {
		_ = s.client.Remove(s.temp)
		return fmt.Errorf("sftp: failed to close file: %w", err)
	}
	if err := s.client.PosixRename(s.temp, s.target.path); err != nil {
		slog.Debug("posix-rename unsupported, falling back to rename", "error", err)
		if err := s.client.Rename(s.temp, s.target.path); err != nil {
			_ = s.client.Remove(s.temp)
			return fmt.Errorf("sftp: failed to rename temporary file: %w", err)
		}
	}
	return nil
}

// Discard removes the partial remote file.
func (s *SFTPSink) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.file == nil {
		return nil
	}
	defer s.disconnect()

	_ = s.file.Close()
	if err := s.client.Remove(s.temp); err != nil {
		return fmt.Errorf("sftp: failed to remove temporary file: %w", err)
	}
	return nil
}

func (s *SFTPSink) disconnect() {
	if err := s.client.Close(); err != nil {
		slog.Debug("Failed to close sftp client", "error", err)
	}
	if err := s.ssh.Close(); err != nil {
		slog.Debug("Failed to close ssh connection", "error", err)
	}
}

// Location is the destination URL without the password.
func (s *SFTPSink) Location() string {
	return redact("sftp", s.target)
}
