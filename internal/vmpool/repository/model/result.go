package model

// Result 一次任务在机器上的执行结果，机器删除后仍然保留
type Result struct {
	ID             int64      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	MachineID      int64      `gorm:"not null;index:idx_results_machine_id;column:machine_id" json:"machine_id"`
	BaseImageID    int64      `gorm:"not null;column:base_image_id" json:"base_image_id"`
	ProviderName   string     `gorm:"type:text;column:provider_name" json:"provider_name"`
	ImageName      string     `gorm:"type:text;column:image_name" json:"image_name"`
	JobName        string     `gorm:"type:text;column:job_name" json:"job_name"`
	BuildNumber    string     `gorm:"type:text;column:build_number" json:"build_number"`
	ChangeNumber   string     `gorm:"type:text;column:change_number" json:"change_number"`
	PatchsetNumber string     `gorm:"type:text;column:patchset_number" json:"patchset_number"`
	StartTime      int64      `gorm:"not null;column:start_time" json:"start_time"`
	EndTime        int64      `gorm:"not null;default:0;column:end_time" json:"end_time"` // 0 表示未结束
	Result         ResultCode `gorm:"type:text;not null;default:'';column:result" json:"result"`
}

// TableName 指定表名
func (Result) TableName() string {
	return "results"
}
