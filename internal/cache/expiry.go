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
	"fmt"
	"time"

	"doorcache/internal/common"
)

// DefaultTTL matches the thirty minute lifetime used for device data.
const DefaultTTL = 1800 * time.Second

// Class groups keys that share a TTL, e.g. volatile door status.
type Class struct {
	Name     string
	TTL      time.Duration
	Patterns []string

	matchers []*Pattern
}

// Policy decides how long entries live and whether they are still valid.
type Policy struct {
	defaultTTL time.Duration
	classes    []Class
}

// NewPolicy builds a policy. Classes are consulted in order; the first class
// with a pattern matching the key wins.
func NewPolicy(defaultTTL time.Duration, classes ...Class) (*Policy, error) {
	if defaultTTL < time.Second {
		return nil, fmt.Errorf("%w: default %v is shorter than one second", common.ErrInvalidTTL, defaultTTL)
	}
	p := &Policy{defaultTTL: defaultTTL}
	for _, cl := range classes {
		if cl.TTL < time.Second {
			return nil, fmt.Errorf("%w: class %q: %v is shorter than one second", common.ErrInvalidTTL, cl.Name, cl.TTL)
		}
		cl.matchers = make([]*Pattern, 0, len(cl.Patterns))
		for _, glob := range cl.Patterns {
			m, err := CompilePattern(glob)
			if err != nil {
				return nil, fmt.Errorf("class %q: %w", cl.Name, err)
			}
			cl.matchers = append(cl.matchers, m)
		}
		p.classes = append(p.classes, cl)
	}
	return p, nil
}

// DefaultTTL returns the global default.
func (p *Policy) DefaultTTL() time.Duration {
	return p.defaultTTL
}

// TTLForClass returns the TTL configured for the named class, or the default.
func (p *Policy) TTLForClass(name string) time.Duration {
	for _, cl := range p.classes {
		if cl.Name == name {
			return cl.TTL
		}
	}
	return p.defaultTTL
}

// ClassOf returns the name of the first class whose patterns match key.
func (p *Policy) ClassOf(key string) (string, bool) {
	for _, cl := range p.classes {
		for _, m := range cl.matchers {
			if m.Match(key) {
				return cl.Name, true
			}
		}
	}
	return "", false
}

// TTLFor resolves the TTL for a write of key. A positive override wins,
// then the key's class, then the default.
func (p *Policy) TTLFor(key string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if name, ok := p.ClassOf(key); ok {
		return p.TTLForClass(name)
	}
	return p.defaultTTL
}

// IsExpired reports whether e is no longer valid at now.
func (p *Policy) IsExpired(e *Entry, now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// IsStale is IsExpired tightened by a reader-supplied maximum age.
// maxAge can only shorten an entry's life, never extend it.
func (p *Policy) IsStale(e *Entry, now time.Time, maxAge time.Duration) bool {
	if p.IsExpired(e, now) {
		return true
	}
	return maxAge > 0 && !now.Before(e.CreatedAt.Add(maxAge))
}
