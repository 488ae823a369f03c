package model

// MachineState 机器状态
type MachineState string

const (
	MachineBuilding MachineState = "building" // 正在创建
	MachineReady    MachineState = "ready"    // 可被领取
	MachineUsed     MachineState = "used"     // 已被领取
	MachineError    MachineState = "error"    // 创建失败，等待回收
	MachineHold     MachineState = "hold"     // 人工保留
	MachineDelete   MachineState = "delete"   // 等待删除
)

// Valid 判断状态是否合法
func (s MachineState) Valid() bool {
	switch s {
	case MachineBuilding, MachineReady, MachineUsed, MachineError, MachineHold, MachineDelete:
		return true
	}
	return false
}

// SnapshotState 快照镜像状态
type SnapshotState string

const (
	SnapshotBuilding SnapshotState = "building"
	SnapshotReady    SnapshotState = "ready"
	SnapshotError    SnapshotState = "error"
)

// ResultCode 任务结果
type ResultCode string

const (
	ResultUnset   ResultCode = ""
	ResultSuccess ResultCode = "SUCCESS"
	ResultFailure ResultCode = "FAILURE"
	ResultTimeout ResultCode = "TIMEOUT"
)

// Valid 判断结果码是否合法（不包括未设置）
func (c ResultCode) Valid() bool {
	switch c {
	case ResultSuccess, ResultFailure, ResultTimeout:
		return true
	}
	return false
}
