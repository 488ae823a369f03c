package model

// SnapshotImage 由基础镜像构建出的快照镜像
type SnapshotImage struct {
	ID               int64         `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	BaseImageID      int64         `gorm:"not null;index:idx_snapshot_images_base_image_id;column:base_image_id" json:"base_image_id"`
	Name             string        `gorm:"type:text;not null;column:name" json:"name"`
	Version          int64         `gorm:"not null;column:version" json:"version"` // unix 秒
	ExternalID       string        `gorm:"type:text;column:external_id" json:"external_id"`
	ServerExternalID string        `gorm:"type:text;column:server_external_id" json:"server_external_id"` // 构建用的临时服务器
	State            SnapshotState `gorm:"type:text;not null;index:idx_snapshot_images_state;column:state" json:"state"`
	StateTime        int64         `gorm:"not null;column:state_time" json:"state_time"`
}

// TableName 指定表名
func (SnapshotImage) TableName() string {
	return "snapshot_images"
}

// StateAge 返回状态持续时间（秒）
func (s *SnapshotImage) StateAge(now int64) int64 {
	return now - s.StateTime
}
