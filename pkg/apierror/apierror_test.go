package apierror_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		testFunc func(*testing.T)
	}{
		{
			name: "Error_Error",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.NewError("TestError", "test message")
				assert.Equal(t, "[TestError] test message", err.Error())
			},
		},
		{
			name: "Error_Error_WithRawError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrInternalError, "db down", fmt.Errorf("raw error"))
				assert.Equal(t, "[InternalError] db down (RawError: raw error)", err.Error())
			},
		},
		{
			name: "Error_Is_SameCode",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrNoMachineAvailable, "no ready precise machine", nil)
				assert.True(t, errors.Is(err, apierror.ErrNoMachineAvailable))
				assert.False(t, errors.Is(err, apierror.ErrMachineNotFound))
			},
		},
		{
			name: "Error_Is_ThroughFmtWrap",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := fmt.Errorf("fetch: %w", apierror.WrapError(apierror.ErrNotGiftable, "nope", nil))
				assert.True(t, errors.Is(err, apierror.ErrNotGiftable))
			},
		},
		{
			name: "Error_Unwrap",
			testFunc: func(t *testing.T) {
				t.Parallel()
				rawErr := fmt.Errorf("raw error")
				err := apierror.WrapError(apierror.ErrInternalError, "msg", rawErr)
				assert.Equal(t, rawErr, errors.Unwrap(err))
				assert.Nil(t, errors.Unwrap(apierror.NewError("X", "y")))
			},
		},
		{
			name: "Error_JSON_ExcludesRawError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrInternalError, "test message", fmt.Errorf("secret"))
				data, marshalErr := json.Marshal(err)
				require.NoError(t, marshalErr)
				assert.NotContains(t, string(data), "secret")
				assert.JSONEq(t, `{"code":"InternalError","message":"test message"}`, string(data))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

func TestFromAndStatusOf(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "api error",
			err:        apierror.WrapError(apierror.ErrNoMachineAvailable, "none", nil),
			wantCode:   "NoMachineAvailable",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "wrapped api error",
			err:        fmt.Errorf("release: %w", apierror.WrapError(apierror.ErrMachineNotFound, "gone", nil)),
			wantCode:   "MachineNotFound",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantCode:   "InternalError",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "invalid parameter",
			err:        apierror.InvalidParameter("bad result code %q", "MAYBE"),
			wantCode:   "InvalidParameter",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.wantCode, apierror.From(tc.err).Code)
			assert.Equal(t, tc.wantStatus, apierror.StatusOf(tc.err))
		})
	}

	assert.Nil(t, apierror.From(nil))
}

func TestErrorResponse(t *testing.T) {
	t.Parallel()

	resp := apierror.NewErrorResponse("request-id", apierror.NewError("Error1", "message 1"))
	resp.AddError(apierror.NewError("Error2", "message 2"))

	assert.Len(t, resp.Errors, 2)
	assert.Contains(t, resp.Error(), "RequestID: request-id")
	assert.Contains(t, resp.Error(), "[Error2] message 2")

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"requestID":"request-id"`)
	assert.Contains(t, string(data), `"code":"Error1"`)
}
