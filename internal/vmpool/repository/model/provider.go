package model

import "time"

// Provider 云提供商表
type Provider struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name           string    `gorm:"type:text;not null;uniqueIndex:idx_providers_name;column:name" json:"name"`
	Driver         string    `gorm:"type:text;not null;default:openstack;column:driver" json:"driver"` // openstack, libvirt
	MaxServers     int       `gorm:"type:integer;not null;default:0;column:max_servers" json:"max_servers"`
	Giftable       bool      `gorm:"type:boolean;default:0;column:giftable" json:"giftable"`
	AuthURL        string    `gorm:"type:text;column:auth_url" json:"auth_url"`
	Username       string    `gorm:"type:text;column:username" json:"username"`
	Password       string    `gorm:"type:text;column:password" json:"-"`
	ProjectName    string    `gorm:"type:text;column:project_name" json:"project_name"`
	DomainName     string    `gorm:"type:text;column:domain_name" json:"domain_name"`
	Region         string    `gorm:"type:text;column:region" json:"region"`
	Endpoint       string    `gorm:"type:text;column:endpoint" json:"endpoint"` // libvirt URI
	Network        string    `gorm:"type:text;column:network" json:"network"`
	FloatingIPPool string    `gorm:"type:text;column:floating_ip_pool" json:"floating_ip_pool"`
	KeypairName    string    `gorm:"type:text;column:keypair_name" json:"keypair_name"`
	CreatedAt      time.Time `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (Provider) TableName() string {
	return "providers"
}

// BaseImage 基础镜像表，一个 Provider 下的一种机器类型
type BaseImage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ProviderID int64     `gorm:"not null;index:idx_base_images_provider_id;column:provider_id" json:"provider_id"`
	Name       string    `gorm:"type:text;not null;column:name" json:"name"`
	ExternalID string    `gorm:"type:text;column:external_id" json:"external_id"` // 提供商侧的镜像 ID
	MinReady   int       `gorm:"type:integer;not null;default:0;column:min_ready" json:"min_ready"`
	MinRAM     int       `gorm:"type:integer;not null;default:0;column:min_ram" json:"min_ram"` // MiB
	CreatedAt  time.Time `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
}

// TableName 指定表名
func (BaseImage) TableName() string {
	return "base_images"
}
