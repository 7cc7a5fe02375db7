// Package sink provides the destinations a finished recording is written to.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Sink receives one encoded recording. Close publishes it at Location;
// Discard abandons whatever was written.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
	Discard() error
	Location() string
}

// Options tunes remote sinks. The zero value is usable.
type Options struct {
	// Timeout bounds connection setup for remote sinks
	Timeout time.Duration

	// KeyFile is the private key used for sftp when no password is given
	KeyFile string

	// KnownHostsFile verifies sftp host keys. Defaults to ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips sftp host key verification
	InsecureIgnoreHostKey bool
}

const defaultTimeout = 30 * time.Second

var (
	ErrUnsupportedScheme = errors.New("unsupported output scheme")
	ErrInvalidName       = errors.New("invalid output file name")
	errAlreadyClosed     = errors.New("sink already closed")
)

// Open returns a sink for dest, which is a local path, a file:// URL, or an
// ftp:// or sftp:// URL. Local sinks create their temp file immediately so
// permission problems surface before capture starts. Remote sinks connect on
// first write.
func Open(ctx context.Context, dest string, opts Options) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	if !strings.Contains(dest, "://") {
		return NewFileSink(dest)
	}

	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid output URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		return NewFileSink(u.Path)
	case "ftp":
		target, err := parseRemote(u, 21)
		if err != nil {
			return nil, err
		}
		return newFTPSink(target, opts), nil
	case "sftp":
		target, err := parseRemote(u, 22)
		if err != nil {
			return nil, err
		}
		return newSFTPSink(target, opts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
}

// remoteTarget is a parsed ftp:// or sftp:// destination
type remoteTarget struct {
	host     string
	port     int
	username string
	password string
	path     string
}

func (t remoteTarget) addr() string {
	return fmt.Sprintf("%s:%d", t.host, t.port)
}

func parseRemote(u *url.URL, defaultPort int) (remoteTarget, error) {
	t := remoteTarget{
		host: u.Hostname(),
		port: defaultPort,
		path: u.Path,
	}
	if t.host == "" {
		return t, fmt.Errorf("output URL %q has no host", u.Redacted())
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return t, fmt.Errorf("output URL %q has invalid port", u.Redacted())
		}
		t.port = port
	}
	if t.path == "" || strings.HasSuffix(t.path, "/") {
		return t, fmt.Errorf("output URL %q must name a file", u.Redacted())
	}
	if u.User != nil {
		t.username = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

// redact strips credentials from a URL for display
func redact(scheme string, t remoteTarget) string {
	u := url.URL{Scheme: scheme, Host: t.addr(), Path: t.path}
	if t.username != "" {
		u.User = url.User(t.username)
	}
	return u.String()
}

// NameFor returns dir/<timestamp>_<label>.<ext>, with the label reduced to
// letters, digits, hyphens and underscores. dir may be a local directory or a
// remote URL prefix.
func NameFor(dir, label, ext string, now time.Time) string {
	name := now.Format("20060102-150405")
	if clean := cleanFileName(label); clean != "" {
		name += "_" + clean
	}
	name += "." + strings.TrimPrefix(ext, ".")

	if strings.Contains(dir, "://") {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(expandHome(dir), name)
}

// Within returns the destination of a recording called name directly inside
// dir. name must be a plain file name; ".wav" is appended when it has no
// extension.
func Within(dir, name string) (string, error) {
	if name == "" || name == "." || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\:`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case "":
		name += ".wav"
	case ".wav":
	default:
		return "", fmt.Errorf("%w: %q must be a .wav file", ErrInvalidName, name)
	}

	if strings.Contains(dir, "://") {
		return strings.TrimSuffix(dir, "/") + "/" + name, nil
	}
	return filepath.Join(expandHome(dir), name), nil
}

// cleanFileName sanitizes a filename
// Allows: letters, numbers, spaces, hyphens, underscores
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// tempName is the upload name used until a remote sink is published
func tempName(final string) string {
	dir, base := filepath.Split(final)
	return fmt.Sprintf("%s.%s.%d-%d.part", dir, base, time.Now().UnixNano(), os.Getpid())
}
