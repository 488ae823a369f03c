// Package jenkins 管理 CI 调度器上的构建节点
package jenkins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	nodeType        = "hudson.slaves.DumbSlave$DescriptorImpl"
	sshLauncher     = "hudson.plugins.sshslaves.SSHLauncher"
	defaultRemoteFS = "/home/jenkins/workspaces"
	defaultTimeout  = 30 * time.Second
)

// ErrNodeNotFound 节点不存在
var ErrNodeNotFound = errors.New("jenkins node not found")

// Options 连接参数
type Options struct {
	URL      string
	User     string
	APIToken string
	Timeout  time.Duration
}

// Node 创建节点参数
type Node struct {
	Name          string
	Description   string
	Host          string
	Port          int
	User          string
	CredentialsID string
	Labels        string
	Executors     int
	RemoteFS      string
}

// Client Jenkins REST 客户端
type Client struct {
	baseURL  string
	user     string
	apiToken string
	http     *http.Client
}

// New 创建客户端
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("jenkins url is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid jenkins url '%s': %w", opts.URL, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.URL, "/"),
		user:     opts.User,
		apiToken: opts.APIToken,
		http:     &http.Client{Timeout: opts.Timeout},
	}, nil
}

type nodeInfo struct {
	DisplayName string `json:"displayName"`
	Offline     bool   `json:"offline"`
}

// NodeExists 判断节点是否存在
func (c *Client) NodeExists(ctx context.Context, name string) (bool, error) {
	_, err := c.nodeInfo(ctx, name)
	if errors.Is(err, ErrNodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DisableNode 将节点置为离线，已离线时不做任何事
func (c *Client) DisableNode(ctx context.Context, name, message string) error {
	info, err := c.nodeInfo(ctx, name)
	if err != nil {
		return err
	}
	if info.Offline {
		return nil
	}
	query := url.Values{"offlineMessage": {message}}
	return c.post(ctx, nodePath(name, "toggleOffline")+"?"+query.Encode(), nil)
}

// DeleteNode 删除节点
func (c *Client) DeleteNode(ctx context.Context, name string) error {
	return c.post(ctx, nodePath(name, "doDelete"), nil)
}

// CreateNode 创建通过 SSH 连接的节点
func (c *Client) CreateNode(ctx context.Context, node Node) error {
	exists, err := c.NodeExists(ctx, node.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("jenkins node '%s' already exists", node.Name)
	}

	payload, err := createNodePayload(node)
	if err != nil {
		return err
	}
	query := url.Values{
		"name": {node.Name},
		"type": {nodeType},
		"json": {payload},
	}
	if err := c.post(ctx, "/computer/doCreateItem?"+query.Encode(), nil); err != nil {
		return err
	}

	exists, err = c.NodeExists(ctx, node.Name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("create jenkins node '%s' failed", node.Name)
	}
	zerolog.Ctx(ctx).Debug().Str("node", node.Name).Str("host", node.Host).Msg("Created jenkins node")
	return nil
}

func createNodePayload(node Node) (string, error) {
	if node.Executors <= 0 {
		node.Executors = 1
	}
	if node.RemoteFS == "" {
		node.RemoteFS = defaultRemoteFS
	}
	if node.Port <= 0 {
		node.Port = 22
	}

	params := map[string]any{
		"name":            node.Name,
		"nodeDescription": node.Description,
		"numExecutors":    node.Executors,
		"remoteFS":        node.RemoteFS,
		"labelString":     node.Labels,
		"mode":            "EXCLUSIVE",
		"type":            nodeType,
		"retentionStrategy": map[string]string{
			"stapler-class": "hudson.slaves.RetentionStrategy$Always",
		},
		"nodeProperties": map[string]string{
			"stapler-class-bag": "true",
		},
		"launcher": map[string]any{
			"stapler-class": sshLauncher,
			"host":          node.Host,
			"port":          strconv.Itoa(node.Port),
			"username":      node.User,
			"credentialsId": node.CredentialsID,
		},
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node payload: %w", err)
	}
	return string(data), nil
}

func (c *Client) nodeInfo(ctx context.Context, name string) (*nodeInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nodePath(name, "api/json"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get jenkins node '%s': %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", name, ErrNodeNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var info nodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode jenkins node '%s': %w", name, err)
	}
	return &info, nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()

	// Jenkins 操作成功后通常 302 重定向
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNodeNotFound)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.apiToken)
	}
	return req, nil
}

func nodePath(name, action string) string {
	return "/computer/" + url.PathEscape(name) + "/" + action
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("jenkins %s %s: unexpected status %d: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
}
