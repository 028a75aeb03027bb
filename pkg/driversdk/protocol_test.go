// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driversdk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monisens/monisens/pkg/driver"
)

func TestSetStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode uint8
		wantText string
	}{
		{
			name:     "nil error is ok",
			err:      nil,
			wantCode: uint8(driver.CodeOK),
			wantText: "",
		},
		{
			name:     "connection failure",
			err:      driver.ConnFailedf("endpoint unreachable"),
			wantCode: uint8(driver.CodeConnFailed),
			wantText: "connection failed: endpoint unreachable",
		},
		{
			name:     "invalid parameters",
			err:      driver.InvalidParamsf("param 3 unset"),
			wantCode: uint8(driver.CodeInvalidParams),
			wantText: "invalid parameters: param 3 unset",
		},
		{
			name:     "untagged errors default to the retryable code",
			err:      errors.New("boom"),
			wantCode: uint8(driver.CodeConnFailed),
			wantText: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				code uint8
				text string
			)
			setStatus(tt.err, &code, &text)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, statusErr(uint8(driver.CodeOK), ""))

	err := statusErr(uint8(driver.CodeConnFailed), "endpoint unreachable")
	require.Error(t, err)
	assert.Equal(t, driver.CodeConnFailed, driver.CodeOf(err))
	assert.Contains(t, err.Error(), "endpoint unreachable")

	err = statusErr(uint8(driver.CodeInvalidParams), "param 3 unset")
	require.Error(t, err)
	assert.Equal(t, driver.CodeInvalidParams, driver.CodeOf(err))

	// An unknown wire value degrades to the retryable code rather than
	// being mistaken for success.
	err = statusErr(42, "garbled")
	require.Error(t, err)
	assert.Equal(t, driver.CodeConnFailed, driver.CodeOf(err))
}

// A status must survive one server-to-host round trip unchanged.
func TestStatusRoundTrip(t *testing.T) {
	original := driver.InvalidParamsf("interval must be positive")

	var resp StatusResponse
	setStatus(original, &resp.Code, &resp.Err)

	reconstructed := statusErr(resp.Code, resp.Err)
	require.Error(t, reconstructed)
	assert.Equal(t, driver.CodeOf(original), driver.CodeOf(reconstructed))
	assert.Contains(t, reconstructed.Error(), "interval must be positive")
}
