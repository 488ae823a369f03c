package apierror

import "net/http"

// 机器池错误
var (
	// ErrNoMachineAvailable 指定镜像当前没有 READY 的机器
	ErrNoMachineAvailable = &Error{
		Code:       "NoMachineAvailable",
		Message:    "No ready machine is available for the requested image.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// ErrMachineNotFound 机器不存在
	ErrMachineNotFound = &Error{
		Code:       "MachineNotFound",
		Message:    "The specified machine does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrResultNotFound 任务结果不存在
	ErrResultNotFound = &Error{
		Code:       "ResultNotFound",
		Message:    "The specified result does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrProviderNotFound Provider 不存在
	ErrProviderNotFound = &Error{
		Code:       "ProviderNotFound",
		Message:    "The specified provider does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrImageNotFound 基础镜像不存在
	ErrImageNotFound = &Error{
		Code:       "ImageNotFound",
		Message:    "The specified image does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrInvalidParameter 参数不合法
	ErrInvalidParameter = &Error{
		Code:       "InvalidParameter",
		Message:    "A parameter specified in the request is not valid.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrNotGiftable 机器所在 Provider 不允许赠送
	ErrNotGiftable = &Error{
		Code:       "NotGiftable",
		Message:    "Machines of this provider can not be given away.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrOvercommitUnresolvable 无法通过删除机器消除超额，需要修改配置
	ErrOvercommitUnresolvable = &Error{
		Code:       "OvercommitUnresolvable",
		Message:    "Unable to reduce overcommitment.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrThresholdNotMet READY 机器数量低于阈值
	ErrThresholdNotMet = &Error{
		Code:       "ThresholdNotMet",
		Message:    "The number of ready machines is below the threshold.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// ErrInternalError 内部错误
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
