package model

// Machine 池中的一台机器
type Machine struct {
	ID            int64        `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	BaseImageID   int64        `gorm:"not null;column:base_image_id" json:"base_image_id"`
	ProviderID    int64        `gorm:"not null;column:provider_id" json:"provider_id"` // 冗余自 BaseImage，便于按 Provider 排序查询
	ExternalID    string       `gorm:"type:text;index:idx_machines_external_id;column:external_id" json:"external_id"`
	Name          string       `gorm:"type:text;not null;index:idx_machines_name;column:name" json:"name"`
	SchedulerName string       `gorm:"type:text;not null;default:'';column:scheduler_name" json:"scheduler_name"`
	IP            string       `gorm:"type:text;column:ip" json:"ip"`
	User          string       `gorm:"type:text;column:user" json:"user"`
	State         MachineState `gorm:"type:text;not null;index:idx_machines_state;column:state" json:"state"`
	StateTime     int64        `gorm:"not null;column:state_time" json:"state_time"`
}

// TableName 指定表名
func (Machine) TableName() string {
	return "machines"
}

// StateAge 返回状态持续时间（秒）
func (m *Machine) StateAge(now int64) int64 {
	return now - m.StateTime
}
