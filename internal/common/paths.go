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

import (
	"fmt"
	"strings"
)

// On-disk layout inside the cache directory. Hidden names are never entries.
const (
	EntrySuffix = ".json"
	TempSuffix  = ".tmp"
	LockSuffix  = ".lock"
	LocksDir    = ".locks"
	StatsDir    = ".stats"

	// MaxKeyLen keeps the longest derived name (temp file) under NAME_MAX.
	MaxKeyLen = 200
)

// SanitizeKey makes a cache key safe to use as a file name.
// Path separators become underscores; keys that would produce hidden,
// empty or oversized names are rejected.
func SanitizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidKey, key)
	}
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(key)
	if strings.HasPrefix(safe, ".") {
		return "", fmt.Errorf("%w: %q starts with a dot", ErrInvalidKey, key)
	}
	if len(safe) > MaxKeyLen {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidKey, len(safe), MaxKeyLen)
	}
	return safe, nil
}

// EntryFileName returns the entry file name for key.
func EntryFileName(key string) (string, error) {
	safe, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	return safe + EntrySuffix, nil
}

// KeyFromFileName reverses EntryFileName for directory listings.
// Returns false for temp files, hidden files and anything not ending in .json.
func KeyFromFileName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, EntrySuffix) {
		return "", false
	}
	key := strings.TrimSuffix(name, EntrySuffix)
	if key == "" {
		return "", false
	}
	return key, true
}

// TempFileName returns the hidden sibling used to stage a write of name.
func TempFileName(name, id string) string {
	return "." + name + "." + id + TempSuffix
}

// LockFileName returns the lock file name guarding entry file name.
func LockFileName(name string) string {
	return strings.TrimSuffix(name, EntrySuffix) + LockSuffix
}
