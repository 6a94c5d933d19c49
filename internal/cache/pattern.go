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
	"strings"

	"doorcache/internal/common"
)

// Pattern matches cache keys against a glob where '*' stands for any run of
// characters (including none) and every other character is literal. The whole
// key must match.
type Pattern struct {
	glob  string
	parts []string
}

// CompilePattern prepares glob for matching. Path separators are folded the
// same way SanitizeKey folds them so patterns line up with stored names.
func CompilePattern(glob string) (*Pattern, error) {
	if glob == "" {
		return nil, fmt.Errorf("%w: empty pattern", common.ErrInvalidKey)
	}
	folded := strings.NewReplacer("/", "_", "\\", "_").Replace(glob)
	return &Pattern{glob: folded, parts: strings.Split(folded, "*")}, nil
}

// String returns the folded glob.
func (p *Pattern) String() string {
	return p.glob
}

// Match reports whether key matches the whole pattern.
func (p *Pattern) Match(key string) bool {
	if len(p.parts) == 1 {
		return key == p.parts[0]
	}
	first, last := p.parts[0], p.parts[len(p.parts)-1]
	if len(key) < len(first)+len(last) || !strings.HasPrefix(key, first) || !strings.HasSuffix(key, last) {
		return false
	}
	rest := key[len(first) : len(key)-len(last)]
	for _, mid := range p.parts[1 : len(p.parts)-1] {
		i := strings.Index(rest, mid)
		if i < 0 {
			return false
		}
		rest = rest[i+len(mid):]
	}
	return true
}
