// Package libvirt 基于 go-libvirt 实现本地 KVM 云提供商驱动
//
// 服务器即 libvirt 域，磁盘为以基础镜像卷为后端的 qcow2 链接克隆。
// 镜像即存储池中的卷，镜像 ID 为卷名。
package libvirt

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/jimyag/vmpool/pkg/cloudinit"
)

const (
	defaultURI     = "qemu:///system"
	defaultPool    = "default"
	defaultNetwork = "default"
	defaultVCPUs   = 2
	minMemoryMiB   = 1024
	overlaySuffix  = ".qcow2"
	seedSuffix     = "-cidata.iso"
	defaultSeedDir = "/var/lib/libvirt/images"
	defaultUser    = "jenkins"
	defaultKeyName = "vmpool"
)

// Options libvirt 连接参数
type Options struct {
	URI     string
	Pool    string
	Network string
	VCPUs   int
	// User 种子盘中创建的登录用户
	User string
	// SeedDir 种子盘所在目录，需要 libvirt 主机可读
	SeedDir string
}

func (o *Options) setDefaults() {
	if o.URI == "" {
		o.URI = defaultURI
	}
	if o.Pool == "" {
		o.Pool = defaultPool
	}
	if o.Network == "" {
		o.Network = defaultNetwork
	}
	if o.VCPUs <= 0 {
		o.VCPUs = defaultVCPUs
	}
	if o.User == "" {
		o.User = defaultUser
	}
	if o.SeedDir == "" {
		o.SeedDir = defaultSeedDir
	}
}

// Driver libvirt 驱动
type Driver struct {
	mu   sync.Mutex
	conn *libvirt.Libvirt
	opts Options
	// keys 密钥对名称到公钥，由 EnsureKeypair 登记
	keys map[string]string
}

var _ cloud.Driver = (*Driver)(nil)

// New 连接 libvirt
func New(opts Options) (*Driver, error) {
	opts.setDefaults()

	uri, err := url.Parse(opts.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid libvirt uri '%s': %w", opts.URI, err)
	}
	conn, err := libvirt.ConnectToURI(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at '%s': %w", opts.URI, err)
	}
	return &Driver{conn: conn, opts: opts, keys: make(map[string]string)}, nil
}

// CreateServer 创建链接克隆磁盘并启动域
// FlavorID 为内存大小（MiB），由 FindFlavor 返回
func (d *Driver) CreateServer(ctx context.Context, opts cloud.CreateServerOpts) (*cloud.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	memoryMiB, err := strconv.Atoi(opts.FlavorID)
	if err != nil || memoryMiB <= 0 {
		return nil, fmt.Errorf("invalid flavor '%s': expect memory size in MiB", opts.FlavorID)
	}

	pool, err := d.conn.StoragePoolLookupByName(d.opts.Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup storage pool '%s': %w", d.opts.Pool, err)
	}
	baseVol, err := d.conn.StorageVolLookupByName(pool, opts.ImageID)
	if err != nil {
		return nil, wrapNotFound(err, "lookup base volume %s", opts.ImageID)
	}
	basePath, err := d.conn.StorageVolGetPath(baseVol)
	if err != nil {
		return nil, fmt.Errorf("failed to get base volume path: %w", err)
	}
	_, capacity, _, err := d.conn.StorageVolGetInfo(baseVol)
	if err != nil {
		return nil, fmt.Errorf("failed to get base volume info: %w", err)
	}

	volXML, err := buildOverlayXML(opts.Name+overlaySuffix, basePath, capacity)
	if err != nil {
		return nil, err
	}
	if _, err := d.conn.StorageVolCreateXML(pool, volXML, 0); err != nil {
		return nil, fmt.Errorf("failed to create overlay volume for '%s': %w", opts.Name, err)
	}

	var seedPath string
	if key, ok := d.keys[opts.KeyName]; ok {
		seedPath = d.seedPath(opts.Name)
		if err := d.writeSeed(ctx, opts.Name, key, seedPath); err != nil {
			return nil, err
		}
	}

	domXML, err := buildDomainXML(domainSpec{
		Name:      opts.Name,
		MemoryMiB: uint64(memoryMiB),
		VCPUs:     d.opts.VCPUs,
		Pool:      d.opts.Pool,
		Volume:    opts.Name + overlaySuffix,
		Network:   d.opts.Network,
		SeedISO:   seedPath,
	})
	if err != nil {
		return nil, err
	}
	dom, err := d.conn.DomainDefineXML(domXML)
	if err != nil {
		return nil, fmt.Errorf("failed to define domain '%s': %w", opts.Name, err)
	}
	if err := d.conn.DomainCreate(dom); err != nil {
		return nil, fmt.Errorf("failed to start domain '%s': %w", opts.Name, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("domain", opts.Name).
		Str("backing", basePath).
		Int("memory_mib", memoryMiB).
		Msg("Domain started")

	return &cloud.Server{
		ID:        opts.Name,
		Name:      opts.Name,
		Status:    cloud.StatusBuild,
		RawStatus: "running",
	}, nil
}

// GetServer 运行中且拿到 IP 时为 ACTIVE
func (d *Driver) GetServer(ctx context.Context, id string) (*cloud.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	dom, err := d.conn.DomainLookupByName(id)
	if err != nil {
		return nil, wrapNotFound(err, "lookup domain %s", id)
	}
	state, _, err := d.conn.DomainGetState(dom, 0)
	if err != nil {
		return nil, wrapNotFound(err, "get domain %s state", id)
	}

	var ip string
	if libvirt.DomainState(state) == libvirt.DomainRunning {
		ifaces, err := d.conn.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
		if err == nil {
			ip = firstIPv4(ifaces)
		}
	}

	status, raw := mapDomainState(libvirt.DomainState(state), ip)
	return &cloud.Server{
		ID:        id,
		Name:      id,
		Status:    status,
		RawStatus: raw,
		PublicIP:  ip,
		PrivateIP: ip,
	}, nil
}

// DeleteServer 销毁并取消定义域，然后删除其磁盘
func (d *Driver) DeleteServer(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	logger := zerolog.Ctx(ctx)

	dom, err := d.conn.DomainLookupByName(id)
	if err != nil {
		return wrapNotFound(err, "lookup domain %s", id)
	}
	state, _, err := d.conn.DomainGetState(dom, 0)
	if err == nil && libvirt.DomainState(state) != libvirt.DomainShutoff {
		if err := d.conn.DomainDestroy(dom); err != nil {
			logger.Warn().Err(err).Str("domain", id).Msg("Failed to destroy domain")
		}
	}

	flags := libvirt.DomainUndefineManagedSave |
		libvirt.DomainUndefineSnapshotsMetadata |
		libvirt.DomainUndefineNvram
	if err := d.conn.DomainUndefineFlags(dom, flags); err != nil {
		return wrapNotFound(err, "undefine domain %s", id)
	}

	if err := d.deleteVolume(id + overlaySuffix); err != nil && !cloud.IsNotFound(err) {
		return err
	}
	if err := cloudinit.RemoveISO(d.seedPath(id)); err != nil {
		logger.Warn().Err(err).Str("domain", id).Msg("Failed to remove seed iso")
	}
	return nil
}

// CreateImage 将服务器磁盘完整复制为新卷，返回卷名
func (d *Driver) CreateImage(ctx context.Context, serverID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pool, err := d.conn.StoragePoolLookupByName(d.opts.Pool)
	if err != nil {
		return "", fmt.Errorf("failed to lookup storage pool '%s': %w", d.opts.Pool, err)
	}
	src, err := d.conn.StorageVolLookupByName(pool, serverID+overlaySuffix)
	if err != nil {
		return "", wrapNotFound(err, "lookup volume of server %s", serverID)
	}
	_, capacity, _, err := d.conn.StorageVolGetInfo(src)
	if err != nil {
		return "", fmt.Errorf("failed to get volume info: %w", err)
	}

	volXML, err := buildVolumeXML(name, capacity)
	if err != nil {
		return "", err
	}
	start := time.Now()
	if _, err := d.conn.StorageVolCreateXMLFrom(pool, volXML, src, 0); err != nil {
		return "", fmt.Errorf("failed to clone volume of server '%s' to '%s': %w", serverID, name, err)
	}
	zerolog.Ctx(ctx).Info().
		Str("server", serverID).
		Str("image", name).
		Dur("elapsed", time.Since(start)).
		Msg("Volume cloned")
	return name, nil
}

// GetImage 卷存在即为 ACTIVE
func (d *Driver) GetImage(ctx context.Context, id string) (*cloud.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pool, err := d.conn.StoragePoolLookupByName(d.opts.Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup storage pool '%s': %w", d.opts.Pool, err)
	}
	if _, err := d.conn.StorageVolLookupByName(pool, id); err != nil {
		return nil, wrapNotFound(err, "lookup volume %s", id)
	}
	return &cloud.Image{
		ID:        id,
		Name:      id,
		Status:    cloud.StatusActive,
		RawStatus: "available",
		Progress:  100,
	}, nil
}

// DeleteImage 删除卷
func (d *Driver) DeleteImage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteVolume(id)
}

func (d *Driver) deleteVolume(name string) error {
	pool, err := d.conn.StoragePoolLookupByName(d.opts.Pool)
	if err != nil {
		return fmt.Errorf("failed to lookup storage pool '%s': %w", d.opts.Pool, err)
	}
	vol, err := d.conn.StorageVolLookupByName(pool, name)
	if err != nil {
		return wrapNotFound(err, "lookup volume %s", name)
	}
	if err := d.conn.StorageVolDelete(vol, libvirt.StorageVolDeleteNormal); err != nil {
		return wrapNotFound(err, "delete volume %s", name)
	}
	return nil
}

// FindFlavor libvirt 没有规格概念，直接以内存大小作为规格 ID
func (d *Driver) FindFlavor(_ context.Context, minRAM int) (string, error) {
	return flavorForRAM(minRAM), nil
}

// NeedsFloatingIP 本地网络直接可达
func (d *Driver) NeedsFloatingIP() bool {
	return false
}

// AttachFloatingIP 不支持
func (d *Driver) AttachFloatingIP(_ context.Context, serverID string) (string, error) {
	return "", fmt.Errorf("floating ip is not supported by libvirt driver (server %s)", serverID)
}

// EnsureKeypair libvirt 没有密钥对，公钥登记在驱动内，创建服务器时写入种子盘
func (d *Driver) EnsureKeypair(_ context.Context, name, publicKey string) (string, error) {
	if name == "" {
		name = defaultKeyName
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[name] = publicKey
	return name, nil
}

func (d *Driver) seedPath(name string) string {
	return filepath.Join(d.opts.SeedDir, name+seedSuffix)
}

func (d *Driver) writeSeed(ctx context.Context, name, publicKey, path string) error {
	seed, err := cloudinit.NewSeed(cloudinit.Options{
		Hostname: name,
		User:     d.opts.User,
		Keys:     []string{publicKey},
	})
	if err != nil {
		return fmt.Errorf("failed to build seed for '%s': %w", name, err)
	}
	if err := seed.WriteISO(ctx, path); err != nil {
		return fmt.Errorf("failed to write seed for '%s': %w", name, err)
	}
	return nil
}

// Close 断开连接
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Disconnect()
}

func flavorForRAM(minRAM int) string {
	return strconv.Itoa(max(minRAM, minMemoryMiB))
}

// mapDomainState 域状态到归一化状态
func mapDomainState(state libvirt.DomainState, ip string) (cloud.Status, string) {
	switch state {
	case libvirt.DomainRunning:
		if ip == "" {
			return cloud.StatusBuild, "running"
		}
		return cloud.StatusActive, "running"
	case libvirt.DomainBlocked, libvirt.DomainPaused, libvirt.DomainNostate:
		return cloud.StatusBuild, domainStateName(state)
	default:
		return cloud.StatusError, domainStateName(state)
	}
}

func domainStateName(state libvirt.DomainState) string {
	switch state {
	case libvirt.DomainNostate:
		return "nostate"
	case libvirt.DomainRunning:
		return "running"
	case libvirt.DomainBlocked:
		return "blocked"
	case libvirt.DomainPaused:
		return "paused"
	case libvirt.DomainShutdown:
		return "shutdown"
	case libvirt.DomainShutoff:
		return "shutoff"
	case libvirt.DomainCrashed:
		return "crashed"
	case libvirt.DomainPmsuspended:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

func firstIPv4(ifaces []libvirt.DomainInterface) string {
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if libvirt.IPAddrType(addr.Type) == libvirt.IPAddrTypeIpv4 && addr.Addr != "" {
				return addr.Addr
			}
		}
	}
	return ""
}

type domainSpec struct {
	Name      string
	MemoryMiB uint64
	VCPUs     int
	Pool      string
	Volume    string
	Network   string
	SeedISO   string
}

func buildDomainXML(spec domainSpec) (string, error) {
	domain := DomainXML{
		Type: "kvm",
		Name: spec.Name,
		Memory: DomainMemory{
			Unit:  "KiB",
			Value: spec.MemoryMiB * 1024,
		},
		VCPU: DomainVCPU{
			Placement: "static",
			Value:     spec.VCPUs,
		},
		OS: DomainOS{
			Type: DomainOSType{Arch: "x86_64", Value: "hvm"},
			Boot: DomainBoot{Dev: "hd"},
		},
		Features: &DomainFeatures{
			ACPI: &struct{}{},
			APIC: &struct{}{},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices: DomainDevices{
			Disks: []DomainDisk{{
				Type:   "volume",
				Device: "disk",
				Driver: DomainDiskDriver{Name: "qemu", Type: "qcow2"},
				Source: DomainDiskSource{Pool: spec.Pool, Volume: spec.Volume},
				Target: DomainDiskTarget{Dev: "vda", Bus: "virtio"},
			}},
			Interfaces: []DomainInterface{{
				Type:   "network",
				Source: DomainInterfaceSource{Network: spec.Network},
				Model:  DomainInterfaceModel{Type: "virtio"},
			}},
			Serial:  DomainSerial{Type: "pty", Target: DomainSerialTarget{Port: 0}},
			Console: DomainConsole{Type: "pty", Target: DomainConsoleTarget{Type: "serial", Port: 0}},
		},
	}

	if spec.SeedISO != "" {
		domain.Devices.Disks = append(domain.Devices.Disks, DomainDisk{
			Type:     "file",
			Device:   "cdrom",
			Driver:   DomainDiskDriver{Name: "qemu", Type: "raw"},
			Source:   DomainDiskSource{File: spec.SeedISO},
			Target:   DomainDiskTarget{Dev: "sda", Bus: "sata"},
			ReadOnly: &struct{}{},
		})
	}

	data, err := xml.MarshalIndent(domain, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain xml: %w", err)
	}
	return string(data), nil
}

func buildOverlayXML(name, backingPath string, capacity uint64) (string, error) {
	vol := VolumeXML{
		Type:     "file",
		Name:     name,
		Capacity: VolumeSize{Unit: "bytes", Value: capacity},
		Target:   VolumeTarget{Format: VolumeFormat{Type: "qcow2"}},
		BackingStore: &BackingStore{
			Path:   backingPath,
			Format: VolumeFormat{Type: "qcow2"},
		},
	}
	data, err := xml.MarshalIndent(vol, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal volume xml: %w", err)
	}
	return string(data), nil
}

func buildVolumeXML(name string, capacity uint64) (string, error) {
	vol := VolumeXML{
		Type:     "file",
		Name:     name,
		Capacity: VolumeSize{Unit: "bytes", Value: capacity},
		Target:   VolumeTarget{Format: VolumeFormat{Type: "qcow2"}},
	}
	data, err := xml.MarshalIndent(vol, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal volume xml: %w", err)
	}
	return string(data), nil
}

func wrapNotFound(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", msg, cloud.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isNotFound(err error) bool {
	var lerr libvirt.Error
	if errors.As(err, &lerr) {
		return isNotFoundCode(lerr.Code)
	}
	return false
}

func isNotFoundCode(code uint32) bool {
	switch libvirt.ErrorNumber(code) {
	case libvirt.ErrNoDomain, libvirt.ErrNoStorageVol, libvirt.ErrNoStoragePool:
		return true
	}
	return false
}
