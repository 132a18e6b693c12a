// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"
)

// Fingerprint is a keyed BLAKE3 digest of a descriptor's identifying
// fields. Two descriptors with equal fingerprints are the same thing
// and share one LocalID.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// MarshalText encodes the fingerprint as lowercase hex.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(f) {
		return fmt.Errorf("fingerprint: want %d hex characters, got %d", 2*len(f), len(text))
	}
	_, err := hex.Decode(f[:], text)
	return err
}

type domainKey [32]byte

func newDomainKey(name string) domainKey {
	var key domainKey
	copy(key[:], name)
	return key
}

var (
	platformDomain   = newDomainKey("tracehook.platform")
	methodDomain     = newDomainKey("tracehook.method")
	sensorTypeDomain = newDomainKey("tracehook.sensor-type")
)

// fingerprint hashes the parts with a NUL separator so that
// ("ab", "c") and ("a", "bc") differ.
func fingerprint(domain domainKey, parts ...string) Fingerprint {
	hasher, err := blake3.NewKeyed(domain[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("ident: " + err.Error())
	}
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	var digest Fingerprint
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
