// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/monisens/monisens/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("abi_mismatch").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "abi_mismatch")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("device_id", "7").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "device_id", "7")
}
