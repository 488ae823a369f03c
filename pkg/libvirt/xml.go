package libvirt

import "encoding/xml"

// DomainXML 域定义
// Reference: https://libvirt.org/formatdomain.html
type DomainXML struct {
	XMLName    xml.Name        `xml:"domain"`
	Type       string          `xml:"type,attr"`
	Name       string          `xml:"name"`
	Memory     DomainMemory    `xml:"memory"`
	VCPU       DomainVCPU      `xml:"vcpu"`
	OS         DomainOS        `xml:"os"`
	Features   *DomainFeatures `xml:"features,omitempty"`
	OnPoweroff string          `xml:"on_poweroff,omitempty"`
	OnReboot   string          `xml:"on_reboot,omitempty"`
	OnCrash    string          `xml:"on_crash,omitempty"`
	Devices    DomainDevices   `xml:"devices"`
}

// DomainMemory 内存配置
type DomainMemory struct {
	Unit  string `xml:"unit,attr"`
	Value uint64 `xml:",chardata"`
}

// DomainVCPU 虚拟 CPU 配置
type DomainVCPU struct {
	Placement string `xml:"placement,attr"`
	Value     int    `xml:",chardata"`
}

// DomainOS 操作系统配置
type DomainOS struct {
	Type DomainOSType `xml:"type"`
	Boot DomainBoot   `xml:"boot"`
}

// DomainOSType 操作系统类型
type DomainOSType struct {
	Arch  string `xml:"arch,attr"`
	Value string `xml:",chardata"`
}

// DomainBoot 启动设备
type DomainBoot struct {
	Dev string `xml:"dev,attr"`
}

// DomainFeatures 虚拟化特性
type DomainFeatures struct {
	ACPI *struct{} `xml:"acpi,omitempty"`
	APIC *struct{} `xml:"apic,omitempty"`
}

// DomainDevices 设备
type DomainDevices struct {
	Disks      []DomainDisk      `xml:"disk"`
	Interfaces []DomainInterface `xml:"interface"`
	Serial     DomainSerial      `xml:"serial"`
	Console    DomainConsole     `xml:"console"`
}

// DomainDisk 磁盘
type DomainDisk struct {
	Type     string           `xml:"type,attr"`
	Device   string           `xml:"device,attr"`
	Driver   DomainDiskDriver `xml:"driver"`
	Source   DomainDiskSource `xml:"source"`
	Target   DomainDiskTarget `xml:"target"`
	ReadOnly *struct{}        `xml:"readonly,omitempty"`
}

// DomainDiskDriver 磁盘驱动
type DomainDiskDriver struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// DomainDiskSource 磁盘来源
type DomainDiskSource struct {
	Pool   string `xml:"pool,attr,omitempty"`
	Volume string `xml:"volume,attr,omitempty"`
	File   string `xml:"file,attr,omitempty"`
}

// DomainDiskTarget 磁盘挂载点
type DomainDiskTarget struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr"`
}

// DomainInterface 网卡
type DomainInterface struct {
	Type   string                `xml:"type,attr"`
	Source DomainInterfaceSource `xml:"source"`
	Model  DomainInterfaceModel  `xml:"model"`
}

// DomainInterfaceSource 网卡来源
type DomainInterfaceSource struct {
	Network string `xml:"network,attr,omitempty"`
	Bridge  string `xml:"bridge,attr,omitempty"`
}

// DomainInterfaceModel 网卡型号
type DomainInterfaceModel struct {
	Type string `xml:"type,attr"`
}

// DomainSerial 串口
type DomainSerial struct {
	Type   string             `xml:"type,attr"`
	Target DomainSerialTarget `xml:"target"`
}

// DomainSerialTarget 串口目标
type DomainSerialTarget struct {
	Port int `xml:"port,attr"`
}

// DomainConsole 控制台
type DomainConsole struct {
	Type   string              `xml:"type,attr"`
	Target DomainConsoleTarget `xml:"target"`
}

// DomainConsoleTarget 控制台目标
type DomainConsoleTarget struct {
	Type string `xml:"type,attr"`
	Port int    `xml:"port,attr"`
}

// VolumeXML 存储卷定义
// Reference: https://libvirt.org/formatstorage.html#StorageVol
type VolumeXML struct {
	XMLName      xml.Name      `xml:"volume"`
	Type         string        `xml:"type,attr"`
	Name         string        `xml:"name"`
	Capacity     VolumeSize    `xml:"capacity"`
	Target       VolumeTarget  `xml:"target"`
	BackingStore *BackingStore `xml:"backingStore,omitempty"`
}

// VolumeSize 存储卷大小
type VolumeSize struct {
	Unit  string `xml:"unit,attr"`
	Value uint64 `xml:",chardata"`
}

// VolumeTarget 存储卷目标
type VolumeTarget struct {
	Format VolumeFormat `xml:"format"`
}

// VolumeFormat 存储卷格式
type VolumeFormat struct {
	Type string `xml:"type,attr"`
}

// BackingStore 链接克隆使用的后端镜像
type BackingStore struct {
	Path   string       `xml:"path"`
	Format VolumeFormat `xml:"format"`
}
