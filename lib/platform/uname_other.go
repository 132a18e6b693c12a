// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package platform

import "runtime"

func uname() (release, machine string) {
	return "", runtime.GOARCH
}
