// Package apierror 提供带错误代码的 API 错误类型，用于服务层和 HTTP 层的统一错误处理
//
// 响应格式：
//
//	{
//	    "errors": [
//	        {
//	            "code": "NoMachineAvailable",
//	            "message": "No ready machine is available for the requested image."
//	        }
//	    ],
//	    "requestID": "req-49861235443712001"
//	}
//
// 服务层使用 WrapError 包装预定义错误，保留错误代码和 HTTP 状态码：
//
//	return nil, apierror.WrapError(apierror.ErrMachineNotFound, "machine 42 does not exist", err)
//
// 调用方使用 errors.Is 按错误代码判断：
//
//	if errors.Is(err, apierror.ErrNoMachineAvailable) {
//	    os.Exit(2)
//	}
package apierror
