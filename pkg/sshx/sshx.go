// Package sshx 提供机器可达性探测和远程命令执行
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort    = 22
	defaultTimeout = 10 * time.Second
	probeCommand   = "true"
)

// Prober 探测机器是否可以通过 SSH 登录，并在机器上执行命令
type Prober interface {
	// Probe 连接被拒绝、超时、认证失败都返回 false, nil
	Probe(ctx context.Context, address, user string) (bool, error)
	// Run 执行命令并返回合并后的输出
	Run(ctx context.Context, address, user, command string) (string, error)
}

// Options SSH 客户端参数
type Options struct {
	PrivateKeyFile string
	Port           int
	Timeout        time.Duration
}

// Client 基于 x/crypto/ssh 的 Prober 实现
type Client struct {
	signer  ssh.Signer
	port    int
	timeout time.Duration
}

var _ Prober = (*Client)(nil)

// New 从私钥文件创建客户端
func New(opts Options) (*Client, error) {
	data, err := os.ReadFile(opts.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key '%s': %w", opts.PrivateKeyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key '%s': %w", opts.PrivateKeyFile, err)
	}
	return NewWithSigner(signer, opts), nil
}

// NewWithSigner 使用已有的 signer 创建客户端
func NewWithSigner(signer ssh.Signer, opts Options) *Client {
	if opts.Port <= 0 {
		opts.Port = defaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{signer: signer, port: opts.Port, timeout: opts.Timeout}
}

// Probe 登录并执行 true
func (c *Client) Probe(ctx context.Context, address, user string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	client, err := c.dial(ctx, address, user)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("address", address).Msg("Machine not reachable over ssh")
		return false, nil
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return false, nil
	}
	defer session.Close()

	if err := session.Run(probeCommand); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("address", address).Msg("Probe command failed")
		return false, nil
	}
	return true, nil
}

// Run 执行远程命令，命令以非零状态退出时返回错误和输出
func (c *Client) Run(ctx context.Context, address, user, command string) (string, error) {
	client, err := c.dial(ctx, address, user)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create ssh session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("command %q failed on %s: %w", command, address, err)
		}
		return out.String(), nil
	}
}

func (c *Client) dial(ctx context.Context, address, user string) (*ssh.Client, error) {
	addr := c.hostPort(address)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// 握手阶段同样受超时约束
	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Timeout:         c.timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// hostPort 地址没有端口时补上默认端口
func (c *Client) hostPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(c.port))
}

// LoadPublicKey 读取并校验 authorized_keys 格式的公钥
func LoadPublicKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read public key '%s': %w", path, err)
	}
	if err := ValidatePublicKey(string(data)); err != nil {
		return "", fmt.Errorf("invalid public key '%s': %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ValidatePublicKey 校验单个 authorized_keys 行
func ValidatePublicKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty public key")
	}
	if strings.ContainsAny(key, "\r\n") {
		return errors.New("public key must be a single line")
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return err
	}
	return nil
}

// AppendAuthorizedKeysCommand 生成追加公钥到 ~/.ssh/authorized_keys 的命令
// 每个公钥只能占一行
func AppendAuthorizedKeysCommand(keys []string) (string, error) {
	var b strings.Builder
	b.WriteString("mkdir -p ~/.ssh && chmod 700 ~/.ssh")
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if strings.ContainsAny(key, "\r\n") {
			return "", fmt.Errorf("public key %q spans multiple lines", key)
		}
		fmt.Fprintf(&b, " && echo %s >> ~/.ssh/authorized_keys", shellQuote(key))
	}
	b.WriteString(" && chmod 600 ~/.ssh/authorized_keys")
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
