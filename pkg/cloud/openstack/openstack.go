// Package openstack 基于 gophercloud 实现 OpenStack 云提供商驱动
package openstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	vendor "github.com/anandvarma/namegen"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/floatingips"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/rs/zerolog"
)

// Options OpenStack 连接参数，AuthURL 为空时从 OS_* 环境变量读取
type Options struct {
	AuthURL        string
	Username       string
	Password       string
	ProjectName    string
	DomainName     string
	Region         string
	Network        string
	FloatingIPPool string
}

// Driver OpenStack 驱动
type Driver struct {
	client *gophercloud.ServiceClient
	opts   Options
}

var _ cloud.Driver = (*Driver)(nil)

// New 认证并创建 compute 客户端
func New(opts Options) (*Driver, error) {
	authOpts, err := authOptions(opts)
	if err != nil {
		return nil, err
	}

	provider, err := openstack.AuthenticatedClient(authOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}

	return &Driver{client: client, opts: opts}, nil
}

func authOptions(opts Options) (gophercloud.AuthOptions, error) {
	if opts.AuthURL == "" {
		authOpts, err := openstack.AuthOptionsFromEnv()
		if err != nil {
			return gophercloud.AuthOptions{}, fmt.Errorf("failed to get auth options from env: %w", err)
		}
		authOpts.AllowReauth = true
		return authOpts, nil
	}
	return gophercloud.AuthOptions{
		IdentityEndpoint: opts.AuthURL,
		Username:         opts.Username,
		Password:         opts.Password,
		TenantName:       opts.ProjectName,
		DomainName:       opts.DomainName,
		AllowReauth:      true,
	}, nil
}

// CreateServer 创建服务器
func (d *Driver) CreateServer(ctx context.Context, opts cloud.CreateServerOpts) (*cloud.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	createOpts := servers.CreateOpts{
		Name:      opts.Name,
		ImageRef:  opts.ImageID,
		FlavorRef: opts.FlavorID,
		Metadata:  opts.Metadata,
	}
	if d.opts.Network != "" {
		createOpts.Networks = []servers.Network{{UUID: d.opts.Network}}
	}

	var builder servers.CreateOptsBuilder = createOpts
	if opts.KeyName != "" {
		builder = keypairs.CreateOptsExt{
			CreateOptsBuilder: createOpts,
			KeyName:           opts.KeyName,
		}
	}

	server, err := servers.Create(d.client, builder).Extract()
	if err != nil {
		return nil, fmt.Errorf("failed to create server '%s': %w", opts.Name, err)
	}
	return toServer(server), nil
}

// GetServer 获取服务器
func (d *Driver) GetServer(ctx context.Context, id string) (*cloud.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	server, err := servers.Get(d.client, id).Extract()
	if err != nil {
		return nil, wrapNotFound(err, "get server %s", id)
	}
	return toServer(server), nil
}

// DeleteServer 删除服务器
func (d *Driver) DeleteServer(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := servers.Delete(d.client, id).ExtractErr(); err != nil {
		return wrapNotFound(err, "delete server %s", id)
	}
	return nil
}

// CreateImage 从服务器创建镜像
func (d *Driver) CreateImage(ctx context.Context, serverID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	imageID, err := servers.CreateImage(d.client, serverID, servers.CreateImageOpts{
		Name: name,
	}).ExtractImageID()
	if err != nil {
		return "", wrapNotFound(err, "create image from server %s", serverID)
	}
	return imageID, nil
}

// GetImage 获取镜像
func (d *Driver) GetImage(ctx context.Context, id string) (*cloud.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	image, err := images.Get(d.client, id).Extract()
	if err != nil {
		return nil, wrapNotFound(err, "get image %s", id)
	}
	return &cloud.Image{
		ID:        image.ID,
		Name:      image.Name,
		Status:    cloud.NormalizeImageStatus(image.Status),
		RawStatus: image.Status,
		Progress:  image.Progress,
	}, nil
}

// DeleteImage 删除镜像
func (d *Driver) DeleteImage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := images.Delete(d.client, id).ExtractErr(); err != nil {
		return wrapNotFound(err, "delete image %s", id)
	}
	return nil
}

// FindFlavor 返回内存不小于 minRAM 的最小规格
func (d *Driver) FindFlavor(ctx context.Context, minRAM int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pages, err := flavors.ListDetail(d.client, flavors.ListOpts{MinRAM: minRAM}).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to list flavors: %w", err)
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract flavors: %w", err)
	}
	return smallestFlavor(all, minRAM)
}

func smallestFlavor(all []flavors.Flavor, minRAM int) (string, error) {
	candidates := make([]flavors.Flavor, 0, len(all))
	for _, f := range all {
		if f.RAM >= minRAM {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no flavor with at least %d MiB of RAM", minRAM)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RAM < candidates[j].RAM
	})
	return candidates[0].ID, nil
}

// NeedsFloatingIP 配置了浮动 IP 池时需要关联浮动 IP
func (d *Driver) NeedsFloatingIP() bool {
	return d.opts.FloatingIPPool != ""
}

// AttachFloatingIP 优先复用池中未关联的浮动 IP，没有则新分配
func (d *Driver) AttachFloatingIP(ctx context.Context, serverID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	logger := zerolog.Ctx(ctx)

	pages, err := floatingips.List(d.client).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to list floating ips: %w", err)
	}
	existing, err := floatingips.ExtractFloatingIPs(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract floating ips: %w", err)
	}

	var address string
	for _, fip := range existing {
		if fip.InstanceID == serverID {
			return fip.IP, nil
		}
		if fip.InstanceID == "" && fip.Pool == d.opts.FloatingIPPool && address == "" {
			address = fip.IP
		}
	}

	if address == "" {
		fip, err := floatingips.Create(d.client, floatingips.CreateOpts{Pool: d.opts.FloatingIPPool}).Extract()
		if err != nil {
			return "", fmt.Errorf("failed to allocate floating ip from pool %s: %w", d.opts.FloatingIPPool, err)
		}
		address = fip.IP
		logger.Debug().Str("ip", address).Str("pool", d.opts.FloatingIPPool).Msg("Allocated floating ip")
	}

	if err := floatingips.AssociateInstance(d.client, serverID, floatingips.AssociateOpts{
		FloatingIP: address,
	}).ExtractErr(); err != nil {
		return "", wrapNotFound(err, "associate floating ip %s with server %s", address, serverID)
	}
	return address, nil
}

// EnsureKeypair 确保密钥对存在，name 为空时生成一个名称
func (d *Driver) EnsureKeypair(ctx context.Context, name, publicKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" {
		name = fmt.Sprintf("vmpool-%s", vendor.New().Get())
	}

	_, err := keypairs.Get(d.client, name, nil).Extract()
	if err == nil {
		return name, nil
	}
	if !cloud.IsNotFound(wrapNotFound(err, "get keypair %s", name)) {
		return "", fmt.Errorf("failed to get keypair '%s': %w", name, err)
	}

	if _, err := keypairs.Create(d.client, keypairs.CreateOpts{
		Name:      name,
		PublicKey: publicKey,
	}).Extract(); err != nil {
		return "", fmt.Errorf("failed to create keypair '%s': %w", name, err)
	}
	zerolog.Ctx(ctx).Info().Str("keypair", name).Msg("Created keypair")
	return name, nil
}

// Close gophercloud 客户端无需关闭
func (d *Driver) Close() error {
	return nil
}

func toServer(s *servers.Server) *cloud.Server {
	public, private := parseAddresses(s.Addresses)
	if s.AccessIPv4 != "" {
		public = s.AccessIPv4
	}
	return &cloud.Server{
		ID:        s.ID,
		Name:      s.Name,
		Status:    cloud.NormalizeStatus(s.Status),
		RawStatus: s.Status,
		PublicIP:  public,
		PrivateIP: private,
	}
}

// parseAddresses 从 server.Addresses 中解析 IPv4 地址
// 浮动 IP 和名为 public 的网络上的地址视为公网地址；没有公网地址时使用第一个固定地址
func parseAddresses(addresses map[string]interface{}) (public, private string) {
	networks := make([]string, 0, len(addresses))
	for name := range addresses {
		networks = append(networks, name)
	}
	sort.Strings(networks)

	for _, network := range networks {
		entries, ok := addresses[network].([]interface{})
		if !ok {
			continue
		}
		for _, entry := range entries {
			addr, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			if version, _ := addr["version"].(float64); version != 4 {
				continue
			}
			ip, _ := addr["addr"].(string)
			if ip == "" {
				continue
			}
			kind, _ := addr["OS-EXT-IPS:type"].(string)
			switch {
			case kind == "floating" || network == "public":
				if public == "" {
					public = ip
				}
			case private == "":
				private = ip
			}
		}
	}
	if public == "" {
		public = private
	}
	return public, private
}

func wrapNotFound(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var e404 gophercloud.ErrDefault404
	if errors.As(err, &e404) {
		return fmt.Errorf("%s: %w", msg, cloud.ErrNotFound)
	}
	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) && unexpected.Actual == http.StatusNotFound {
		return fmt.Errorf("%s: %w", msg, cloud.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
