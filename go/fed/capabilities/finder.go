/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package capabilities

import (
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/fedplan/fedplan/go/fed/federrors"
)

// Finder looks up the capabilities of a source.
type Finder interface {
	FindCapabilities(source string) (*Capabilities, error)
}

// StaticFinder is a Finder over a fixed map.
type StaticFinder map[string]*Capabilities

var _ Finder = StaticFinder(nil)

// FindCapabilities implements the Finder interface.
func (f StaticFinder) FindCapabilities(source string) (*Capabilities, error) {
	c, ok := f[source]
	if !ok {
		return nil, federrors.FED10003(source)
	}
	return c, nil
}

// Sources returns the known source names, sorted.
func (f StaticFinder) Sources() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CachingFinder remembers the answers of another Finder for a while. It is
// meant for long running processes whose Finder is expensive to consult.
// Errors are not cached.
type CachingFinder struct {
	finder Finder
	cache  *cache.Cache
}

var _ Finder = (*CachingFinder)(nil)

// NewCachingFinder wraps finder, keeping answers for ttl.
func NewCachingFinder(finder Finder, ttl time.Duration) *CachingFinder {
	return &CachingFinder{
		finder: finder,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// FindCapabilities implements the Finder interface.
func (f *CachingFinder) FindCapabilities(source string) (*Capabilities, error) {
	if c, ok := f.cache.Get(source); ok {
		return c.(*Capabilities), nil
	}
	c, err := f.finder.FindCapabilities(source)
	if err != nil {
		return nil, err
	}
	f.cache.SetDefault(source, c)
	return c, nil
}

// Invalidate forgets the cached answer for source.
func (f *CachingFinder) Invalidate(source string) {
	f.cache.Delete(source)
}
