// Copyright 2026 DoorCache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidKey   = errors.New("invalid cache key")
	ErrEncoding     = errors.New("payload not serializable")
	ErrInvalidTTL   = errors.New("invalid ttl")
	ErrCorruptEntry = errors.New("corrupt cache entry")
	ErrLockTimeout  = errors.New("lock wait timed out")
	ErrIO           = errors.New("I/O error")
)

// Error kinds reported in logs and status output.
const (
	KindEncoding    = "encoding"
	KindCorrupt     = "corrupt"
	KindLockTimeout = "lock_timeout"
	KindInvalidKey  = "invalid_key"
	KindInvalidTTL  = "invalid_ttl"
	KindIO          = "io"
)

// KindOf classifies err into one of the Kind* labels.
// Anything not recognized is treated as an I/O failure.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrCorruptEntry):
		return KindCorrupt
	case errors.Is(err, ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, ErrInvalidKey):
		return KindInvalidKey
	case errors.Is(err, ErrInvalidTTL):
		return KindInvalidTTL
	default:
		return KindIO
	}
}
