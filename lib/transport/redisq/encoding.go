// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redisq

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// The schema types carry json tags only; msgpack reads the same tags
// so field names match the CBOR encoding used on sockets.
const structTag = "json"

func marshal(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := msgpack.NewEncoder(&buffer)
	encoder.SetCustomStructTag(structTag)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func unmarshal(data []byte, value any) error {
	decoder := msgpack.NewDecoder(bytes.NewReader(data))
	decoder.SetCustomStructTag(structTag)
	return decoder.Decode(value)
}
