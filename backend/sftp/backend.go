// Package sftp provides an SFTP store backend.
//
//	backend, err := sftp.New(sftp.Config{
//	    Host:           "vault.example.com",
//	    User:           "cas",
//	    KeyFile:        "/etc/omnicas/id_ed25519",
//	    KnownHostsFile: "/etc/omnicas/known_hosts",
//	    Root:           "/srv/cluster-a",
//	})
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/grokify/omnicas/store"
)

func init() {
	store.Register("sftp", NewFromConfig)
}

// Backend implements store.ExtendedBackend over SFTP.
type Backend struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	config     Config
	closed     bool
	mu         sync.RWMutex
}

// New dials the server and opens an SFTP session.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}

	var authMethods []ssh.AuthMethod
	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if cfg.KeyFile != "" {
		keyAuth, err := keyFileAuth(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("sftp: loading key file: %w", err)
		}
		authMethods = append(authMethods, keyAuth)
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("sftp: no authentication method provided (password or key_file required)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: only when no known_hosts file is configured
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: loading known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		Timeout:         time.Duration(cfg.Timeout) * time.Second,
		HostKeyCallback: hostKeyCallback,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("sftp: SSH connection failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp: SFTP session failed: %w", err)
	}

	b := NewWithClient(sftpClient, cfg)
	b.sshClient = sshClient
	return b, nil
}

// NewWithClient wraps an already established SFTP session.
func NewWithClient(client *sftp.Client, cfg Config) *Backend {
	return &Backend{sftpClient: client, config: cfg}
}

// NewFromConfig creates a new SFTP backend from a config map.
func NewFromConfig(configMap map[string]string) (store.Backend, error) {
	return New(ConfigFromMap(configMap))
}

func keyFileAuth(keyFile, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// NewWriter writes to a temporary remote file that is renamed into place on Close.
func (b *Backend) NewWriter(ctx context.Context, p string, opts ...store.WriterOption) (io.WriteCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	cfg := store.ApplyWriterOptions(opts...)
	fullPath := b.fullPath(p)
	if cfg.IfNotExists {
		if _, err := b.sftpClient.Stat(fullPath); err == nil {
			return nil, store.ErrAlreadyExists
		}
	}

	dir := path.Dir(fullPath)
	if err := b.sftpClient.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("sftp: creating directory: %w", err)
	}

	tmp := path.Join(dir, ".tmp-"+uuid.NewString())
	f, err := b.sftpClient.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return nil, b.translateError(err, p)
	}

	return &sftpWriter{File: f, backend: b, tmp: tmp, final: fullPath, key: p, ifNotExists: cfg.IfNotExists}, nil
}

// NewReader opens the given key.
func (b *Backend) NewReader(ctx context.Context, p string, opts ...store.ReaderOption) (io.ReadCloser, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	cfg := store.ApplyReaderOptions(opts...)
	f, err := b.sftpClient.Open(b.fullPath(p))
	if err != nil {
		return nil, b.translateError(err, p)
	}

	if cfg.Offset > 0 {
		if _, err := f.Seek(cfg.Offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("sftp: seeking to offset: %w", err)
		}
	}
	if cfg.Limit > 0 {
		return &limitedReadCloser{Reader: io.LimitReader(f, cfg.Limit), Closer: f}, nil
	}
	return f, nil
}

// Exists checks if a key exists.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := b.check(ctx); err != nil {
		return false, err
	}

	_, err := b.sftpClient.Stat(b.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, b.translateError(err, p)
	}
	return true, nil
}

// Delete removes a key.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	if err := b.sftpClient.Remove(b.fullPath(p)); err != nil && !os.IsNotExist(err) {
		return b.translateError(err, p)
	}
	return nil
}

// List walks the directory holding the prefix and returns matching keys in lexical order.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	dir := b.config.Root
	if d := path.Dir(prefix); d != "." {
		dir = b.fullPath(d)
	}

	paths := []string{}
	walker := b.sftpClient.Walk(dir)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("sftp: listing directory: %w", err)
		}
		info := walker.Stat()
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), b.config.Root), "/")
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// Close closes the SFTP session and the SSH connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.sftpClient != nil {
		errs = append(errs, b.sftpClient.Close())
	}
	if b.sshClient != nil {
		errs = append(errs, b.sshClient.Close())
	}
	return errors.Join(errs...)
}

// Stat returns the size and modification time of an object.
func (b *Backend) Stat(ctx context.Context, p string) (store.ObjectInfo, error) {
	if err := b.check(ctx); err != nil {
		return store.ObjectInfo{}, err
	}

	info, err := b.sftpClient.Stat(b.fullPath(p))
	if err != nil {
		return store.ObjectInfo{}, b.translateError(err, p)
	}
	return store.ObjectInfo{Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Copy streams src to dst through the client.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	return store.CopyPath(ctx, b, src, b, dst)
}

// Move renames src to dst, replacing dst.
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	dstPath := b.fullPath(dst)
	if err := b.sftpClient.MkdirAll(path.Dir(dstPath)); err != nil {
		return fmt.Errorf("sftp: creating directory: %w", err)
	}
	if err := b.sftpClient.PosixRename(b.fullPath(src), dstPath); err != nil {
		return b.translateError(err, src)
	}
	return nil
}

func (b *Backend) fullPath(p string) string {
	if b.config.Root == "" {
		return p
	}
	return path.Join(b.config.Root, p)
}

func (b *Backend) check(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return store.ErrBackendClosed
	}
	return ctx.Err()
}

func (b *Backend) translateError(err error, p string) error {
	if os.IsNotExist(err) {
		return store.ErrNotFound
	}
	if os.IsPermission(err) {
		return store.ErrPermissionDenied
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return store.ErrNotFound
		case sftp.ErrSSHFxPermissionDenied:
			return store.ErrPermissionDenied
		}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && os.IsNotExist(pathErr.Err) {
		return store.ErrNotFound
	}

	return fmt.Errorf("sftp: error for %q: %w", p, err)
}

type sftpWriter struct {
	*sftp.File
	backend     *Backend
	tmp, final  string
	key         string
	ifNotExists bool
	done        bool
}

func (w *sftpWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	client := w.backend.sftpClient
	if err := w.File.Close(); err != nil {
		_ = client.Remove(w.tmp)
		return err
	}

	if w.ifNotExists {
		// plain SFTP rename refuses to replace an existing target
		if err := client.Rename(w.tmp, w.final); err != nil {
			_ = client.Remove(w.tmp)
			if _, statErr := client.Stat(w.final); statErr == nil {
				return store.ErrAlreadyExists
			}
			return w.backend.translateError(err, w.key)
		}
		return nil
	}

	if err := client.PosixRename(w.tmp, w.final); err != nil {
		_ = client.Remove(w.tmp)
		return w.backend.translateError(err, w.key)
	}
	return nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

var _ store.ExtendedBackend = (*Backend)(nil)
