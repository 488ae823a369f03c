package entity

import "errors"

// Result 任务结果
type Result struct {
	ID             int64  `json:"id"`
	MachineID      int64  `json:"machine_id"`
	BaseImageID    int64  `json:"base_image_id"`
	ProviderName   string `json:"provider_name"`
	ImageName      string `json:"image_name"`
	JobName        string `json:"job_name"`
	BuildNumber    string `json:"build_number"`
	ChangeNumber   string `json:"change_number"`
	PatchsetNumber string `json:"patchset_number"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time,omitempty"`
	Result         string `json:"result"`
}

// ReportResultRequest 上报任务结果
type ReportResultRequest struct {
	ResultID int64  `json:"result_id"`
	Result   string `json:"result"` // SUCCESS, FAILURE, TIMEOUT
}

func (r *ReportResultRequest) IsValid() error {
	if r.ResultID <= 0 {
		return errors.New("result_id must be positive")
	}
	if r.Result == "" {
		return errors.New("result is required")
	}
	return nil
}

// ReportResultResponse 上报结果
// Changed 为 false 表示 TIMEOUT 没有覆盖已有结果
type ReportResultResponse struct {
	Changed bool    `json:"changed"`
	Result  *Result `json:"result"`
}
