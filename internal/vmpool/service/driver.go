package service

import (
	"context"
	"fmt"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/cloud"
	"github.com/jimyag/vmpool/pkg/cloud/openstack"
	"github.com/jimyag/vmpool/pkg/libvirt"
)

// DriverFactory 根据 Provider 创建云驱动，调用方负责 Close
type DriverFactory func(ctx context.Context, provider *model.Provider) (cloud.Driver, error)

// NewDriverFactory 默认的 DriverFactory
// libvirt 机器通过 cloud-init 种子盘注入 SSH 用户
func NewDriverFactory(cfg *config.Config) DriverFactory {
	return func(_ context.Context, provider *model.Provider) (cloud.Driver, error) {
		switch provider.Driver {
		case "libvirt":
			driver, err := libvirt.New(libvirt.Options{
				URI:     provider.Endpoint,
				Network: provider.Network,
				User:    cfg.SSH.User,
			})
			if err != nil {
				return nil, err
			}
			return driver, nil
		case "openstack", "":
			driver, err := openstack.New(openstack.Options{
				AuthURL:        provider.AuthURL,
				Username:       provider.Username,
				Password:       provider.Password,
				ProjectName:    provider.ProjectName,
				DomainName:     provider.DomainName,
				Region:         provider.Region,
				Network:        provider.Network,
				FloatingIPPool: provider.FloatingIPPool,
			})
			if err != nil {
				return nil, err
			}
			return driver, nil
		default:
			return nil, fmt.Errorf("provider %s: unknown driver %q", provider.Name, provider.Driver)
		}
	}
}
