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

package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"doorcache/internal/common"
)

// Entry is one cached key: its payload plus write-time metadata.
// ExpiresAt is fixed at write time; refreshing a key means writing a new Entry.
type Entry struct {
	Key       string
	CreatedAt time.Time
	TTL       time.Duration
	ExpiresAt time.Time
	Data      json.RawMessage
}

// entryTimeLayout is naive UTC with microseconds, the form datetime.isoformat()
// gives for utcnow(). Every worker sharing the directory reads and writes it.
const entryTimeLayout = "2006-01-02T15:04:05.000000"

// entryTime is a timestamp in its on-disk form.
type entryTime time.Time

func (t entryTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(entryTimeLayout))
}

func (t *entryTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := parseEntryTime(s)
	if err != nil {
		return err
	}
	*t = entryTime(parsed)
	return nil
}

// parseEntryTime accepts naive UTC, with or without fractional seconds, and
// RFC 3339 with an explicit offset.
func parseEntryTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
}

// entryRecord is the persisted shape of an Entry.
// Pointer fields distinguish a missing field from a zero value.
type entryRecord struct {
	Timestamp *entryTime      `json:"timestamp"`
	ExpiresAt *entryTime      `json:"expires_at"`
	CacheKey  string          `json:"cache_key"`
	TTL       *int64          `json:"ttl"`
	Data      json.RawMessage `json:"data"`
}

var jsonNull = []byte("null")

// NewEntry serializes value and stamps it with now and ttl.
// TTL is stored in whole seconds and must be at least one second; times are
// kept to the microsecond.
func NewEntry(key string, value any, ttl time.Duration, now time.Time) (*Entry, error) {
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: %v is shorter than one second", common.ErrInvalidTTL, ttl)
	}
	if value == nil {
		return nil, fmt.Errorf("%w: nil payload", common.ErrEncoding)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncoding, err)
	}
	if bytes.Equal(data, jsonNull) {
		return nil, fmt.Errorf("%w: nil payload", common.ErrEncoding)
	}
	ttl = ttl.Truncate(time.Second)
	created := now.UTC().Truncate(time.Microsecond)
	return &Entry{
		Key:       key,
		CreatedAt: created,
		TTL:       ttl,
		ExpiresAt: created.Add(ttl),
		Data:      data,
	}, nil
}

// EncodeEntry renders e in its on-disk form.
func EncodeEntry(e *Entry) ([]byte, error) {
	ttl := int64(e.TTL / time.Second)
	created, expires := entryTime(e.CreatedAt), entryTime(e.ExpiresAt)
	rec := entryRecord{
		Timestamp: &created,
		ExpiresAt: &expires,
		CacheKey:  e.Key,
		TTL:       &ttl,
		Data:      e.Data,
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncoding, err)
	}
	return out, nil
}

// DecodeEntry parses and validates an on-disk entry.
// Any malformed, truncated or incomplete input yields ErrCorruptEntry.
func DecodeEntry(b []byte) (*Entry, error) {
	var rec entryRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCorruptEntry, err)
	}
	switch {
	case rec.CacheKey == "":
		return nil, fmt.Errorf("%w: missing cache_key", common.ErrCorruptEntry)
	case rec.Timestamp == nil:
		return nil, fmt.Errorf("%w: missing timestamp", common.ErrCorruptEntry)
	case rec.ExpiresAt == nil:
		return nil, fmt.Errorf("%w: missing expires_at", common.ErrCorruptEntry)
	case rec.TTL == nil || *rec.TTL <= 0:
		return nil, fmt.Errorf("%w: missing or non-positive ttl", common.ErrCorruptEntry)
	case len(rec.Data) == 0 || bytes.Equal(rec.Data, jsonNull):
		return nil, fmt.Errorf("%w: missing data", common.ErrCorruptEntry)
	case time.Time(*rec.ExpiresAt).Before(time.Time(*rec.Timestamp)):
		return nil, fmt.Errorf("%w: expires_at precedes timestamp", common.ErrCorruptEntry)
	}
	return &Entry{
		Key:       rec.CacheKey,
		CreatedAt: time.Time(*rec.Timestamp),
		TTL:       time.Duration(*rec.TTL) * time.Second,
		ExpiresAt: time.Time(*rec.ExpiresAt),
		Data:      rec.Data,
	}, nil
}
