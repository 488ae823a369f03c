package service

import (
	"errors"
	"fmt"

	"github.com/jimyag/vmpool/internal/vmpool/repository"
	"github.com/jimyag/vmpool/pkg/apierror"
)

// storeError 将仓库错误转换为 API 错误，记录不存在时使用 notFound
func storeError(err error, notFound *apierror.Error, format string, args ...any) *apierror.Error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, repository.ErrNotFound) {
		return apierror.WrapError(notFound, msg, err)
	}
	return apierror.WrapError(apierror.ErrInternalError, msg, err)
}
