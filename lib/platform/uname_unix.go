// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package platform

import "golang.org/x/sys/unix"

// uname returns the kernel release and machine hardware name.
func uname() (release, machine string) {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return "", ""
	}
	return unix.ByteSliceToString(utsname.Release[:]), unix.ByteSliceToString(utsname.Machine[:])
}
