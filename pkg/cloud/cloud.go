// Package cloud 定义机器池使用的云提供商驱动接口
package cloud

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound 提供商侧资源不存在
var ErrNotFound = errors.New("cloud resource not found")

// Status 归一化后的资源状态
type Status string

const (
	StatusBuild  Status = "BUILD"
	StatusActive Status = "ACTIVE"
	StatusError  Status = "ERROR"
)

// NormalizeStatus 归一化服务器状态
// BUILD 前缀（BUILD、BUILD(spawning) 等）视为创建中
func NormalizeStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == "ACTIVE":
		return StatusActive
	case strings.HasPrefix(s, "BUILD"):
		return StatusBuild
	default:
		return StatusError
	}
}

// NormalizeImageStatus 归一化镜像状态，SAVING、QUEUED 等视为创建中
func NormalizeImageStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ACTIVE":
		return StatusActive
	case "SAVING", "QUEUED", "UNKNOWN", "BUILD", "":
		return StatusBuild
	default:
		return StatusError
	}
}

// Server 提供商侧的服务器
type Server struct {
	ID        string
	Name      string
	Status    Status
	RawStatus string
	PublicIP  string
	PrivateIP string
}

// Image 提供商侧的镜像
type Image struct {
	ID        string
	Name      string
	Status    Status
	RawStatus string
	Progress  int
}

// CreateServerOpts 创建服务器参数
type CreateServerOpts struct {
	Name     string
	ImageID  string
	FlavorID string
	KeyName  string
	Metadata map[string]string
}

// Driver 云提供商驱动
type Driver interface {
	CreateServer(ctx context.Context, opts CreateServerOpts) (*Server, error)
	// GetServer 服务器不存在时返回 ErrNotFound
	GetServer(ctx context.Context, id string) (*Server, error)
	// DeleteServer 服务器不存在时返回 ErrNotFound
	DeleteServer(ctx context.Context, id string) error

	// CreateImage 从服务器创建镜像，返回镜像 ID
	CreateImage(ctx context.Context, serverID, name string) (string, error)
	GetImage(ctx context.Context, id string) (*Image, error)
	DeleteImage(ctx context.Context, id string) error

	// FindFlavor 返回内存不小于 minRAM（MiB）的最小规格
	FindFlavor(ctx context.Context, minRAM int) (string, error)

	NeedsFloatingIP() bool
	// AttachFloatingIP 分配并关联浮动 IP，返回公网地址
	AttachFloatingIP(ctx context.Context, serverID string) (string, error)

	// EnsureKeypair 确保提供商侧存在名为 name 的密钥对，返回实际使用的名称
	EnsureKeypair(ctx context.Context, name, publicKey string) (string, error)

	Close() error
}

// IsNotFound 判断是否为资源不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
