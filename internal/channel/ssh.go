package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes a live remote shell.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// KeyFile is a PEM private key used for public key auth.
	KeyFile string
	// KnownHosts is an OpenSSH known_hosts file. When empty the host key is
	// not verified.
	KnownHosts  string
	Term        string
	Cols        int
	Rows        int
	DialTimeout time.Duration
}

// DefaultSSHDialTimeout bounds the TCP dial and the SSH handshake when
// SSHConfig.DialTimeout is unset.
const DefaultSSHDialTimeout = 15 * time.Second

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		pem, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh auth method configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.KnownHosts != "" {
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	} else {
		zap.S().Warnf("[channel] ssh %s: host key verification disabled (no known_hosts configured)", c.addr())
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, nil
}

// handshake runs the SSH client handshake on conn under a deadline. Cancelling
// ctx closes conn, which aborts a handshake in progress.
func handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, nil, err
	}
	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	close(stop)
	<-watched
	if cerr := ctx.Err(); cerr != nil {
		if err == nil {
			sshConn.Close()
			return nil, nil, nil, cerr
		}
		return nil, nil, nil, fmt.Errorf("%w (%v)", cerr, err)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, nil, nil, err
	}
	return sshConn, chans, reqs, nil
}

// DialSSH connects to the remote host, requests a PTY and starts the login
// shell. The returned stream owns the connection; closing it ends the
// session and the client.
func DialSSH(ctx context.Context, cfg SSHConfig, opts ...StreamOption) (*Stream, error) {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", cfg.addr(), err)
	}

	addr := cfg.addr()
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultSSHDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := handshake(ctx, conn, addr, clientCfg, timeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	term := cfg.Term
	if term == "" {
		term = "xterm-256color"
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	closeAll := func() error {
		serr := session.Close()
		cerr := client.Close()
		if serr != nil && !errors.Is(serr, io.EOF) {
			return serr
		}
		return cerr
	}

	if err := session.RequestPty(term, rows, cols, modes); err != nil {
		closeAll()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		closeAll()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	zap.S().Infof("[channel] ssh %s@%s: shell started (%s %dx%d)", cfg.User, addr, term, cols, rows)

	opts = append([]StreamOption{WithResize(func(cols, rows int) error {
		return session.WindowChange(rows, cols)
	})}, opts...)
	return NewStream("ssh "+addr, stdout, stdin, closeAll, opts...), nil
}
