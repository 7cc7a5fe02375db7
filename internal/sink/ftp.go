package sink

import (
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/jlaffaye/ftp"
)

// FTPSink streams the recording to an FTP server under a temporary name and
// renames it on Close.
type FTPSink struct {
	target remoteTarget
	opts   Options

	conn   *ftp.ServerConn
	pw     *io.PipeWriter
	stored chan error
	temp   string
	done   bool
}

func newFTPSink(target remoteTarget, opts Options) *FTPSink {
	return &FTPSink{target: target, opts: opts}
}

// connect dials, logs in and starts the upload of the temp file
func (s *FTPSink) connect() error {
	conn, err := ftp.Dial(s.target.addr(), ftp.DialWithTimeout(s.opts.Timeout))
	if err != nil {
		return fmt.Errorf("ftp: connection failed: %w", err)
	}
	if s.target.username != "" {
		if err := conn.Login(s.target.username, s.target.password); err != nil {
			if quitErr := conn.Quit(); quitErr != nil {
				slog.Debug("Failed to quit FTP connection after login error", "error", quitErr)
			}
			return fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	if dir := path.Dir(s.target.path); dir != "/" && dir != "." {
		if err := conn.MakeDir(dir); err != nil {
			slog.Debug("FTP directory not created, assuming it exists", "dir", dir, "error", err)
		}
	}

	pr, pw := io.Pipe()
	s.conn = conn
	s.pw = pw
	s.temp = path.Join(path.Dir(s.target.path), path.Base(tempName(s.target.path)))
	s.stored = make(chan error, 1)

	go func() {
		err := conn.Stor(s.temp, pr)
		// unblock writers if the server gave up early
		_ = pr.CloseWithError(err)
		s.stored <- err
	}()
	return nil
}

func (s *FTPSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, errAlreadyClosed
	}
	if s.conn == nil {
		if err := s.connect(); err != nil {
			return 0, err
		}
	}
	return s.pw.Write(p)
}

// Close finishes the upload and renames the temp file into place.
func (s *FTPSink) Close() error {
	if s.done {
		return errAlreadyClosed
	}
	if s.conn == nil {
		// nothing written yet, upload an empty file
		if err := s.connect(); err != nil {
			s.done = true
			return err
		}
	}
	s.done = true
	defer s.quit()

	_ = s.pw.Close()
	if err := <-s.stored; err != nil {
		_ = s.conn.Delete(s.temp)
		return fmt.Errorf("ftp: failed to store file: %w", err)
	}
	if err := s.conn.Rename(s.temp, s.target.path); err != nil {
		_ = s.conn.Delete(s.temp)
		return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
	}
	return nil
}

// Discard aborts the upload and removes the temp file.
func (s *FTPSink) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.conn == nil {
		return nil
	}
	defer s.quit()

	_ = s.pw.CloseWithError(io.ErrClosedPipe)
	<-s.stored
	if err := s.conn.Delete(s.temp); err != nil {
		return fmt.Errorf("ftp: failed to delete temporary file: %w", err)
	}
	return nil
}

func (s *FTPSink) quit() {
	if err := s.conn.Quit(); err != nil {
		slog.Debug("Failed to quit FTP connection", "error", err)
	}
}

// Location is the destination URL without the password.
func (s *FTPSink) Location() string {
	return redact("ftp", s.target)
}
