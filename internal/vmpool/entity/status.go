package entity

// PoolStatusRequest 查询池状态
type PoolStatusRequest struct {
	Provider  string `json:"provider" form:"provider"`
	Threshold int    `json:"threshold" form:"threshold"`
}

// PoolStatus 池状态
type PoolStatus struct {
	Providers []ProviderStatus `json:"providers"`
	Ready     int              `json:"ready"`
	Threshold int              `json:"threshold,omitempty"`
}

// ProviderStatus 单个 Provider 的占用情况
type ProviderStatus struct {
	Name       string         `json:"name"`
	MaxServers int            `json:"max_servers"`
	Total      int            `json:"total"`
	Images     []ImageStatus  `json:"images"`
	States     map[string]int `json:"states"`
}

// ImageStatus 单个基础镜像的占用情况
type ImageStatus struct {
	Name     string         `json:"name"`
	MinReady int            `json:"min_ready"`
	Snapshot string         `json:"snapshot,omitempty"` // 当前快照镜像名
	States   map[string]int `json:"states"`
}
