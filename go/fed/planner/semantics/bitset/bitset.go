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

package bitset

import (
	"math/bits"
)

// A Bitset is an immutable set of small non-negative integers. Every
// operation that changes the set returns a new Bitset, so values can be
// compared with == and used as map keys.
type Bitset string

const wordWidth = 8

func wordsFor(bit int) int {
	return bit/wordWidth + 1
}

// trimmed drops trailing zero words so that equal sets have equal
// representations.
func trimmed(words []byte) Bitset {
	n := len(words)
	for n > 0 && words[n-1] == 0 {
		n--
	}
	return Bitset(words[:n])
}

func shorter(a, b Bitset) int {
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}

// Overlaps returns whether the two sets share at least one member.
func (bs Bitset) Overlaps(other Bitset) bool {
	for i := 0; i < shorter(bs, other); i++ {
		if bs[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

// Or returns the union of the two sets.
func (bs Bitset) Or(other Bitset) Bitset {
	switch {
	case len(bs) == 0:
		return other
	case len(other) == 0:
		return bs
	}
	small, large := bs, other
	if len(small) > len(large) {
		small, large = large, small
	}
	merged := []byte(large)
	for i := 0; i < len(small); i++ {
		merged[i] |= small[i]
	}
	return Bitset(merged)
}

// AndNot returns the members of bs that are not in other.
func (bs Bitset) AndNot(other Bitset) Bitset {
	if len(other) == 0 || len(bs) == 0 {
		return bs
	}
	words := []byte(bs)
	for i := 0; i < shorter(bs, other); i++ {
		words[i] &^= other[i]
	}
	return trimmed(words)
}

// And returns the intersection of the two sets.
func (bs Bitset) And(other Bitset) Bitset {
	n := shorter(bs, other)
	if n == 0 {
		return ""
	}
	words := make([]byte, n)
	for i := 0; i < n; i++ {
		words[i] = bs[i] & other[i]
	}
	return trimmed(words)
}

// Set returns a copy of bs with the given member added.
func (bs Bitset) Set(bit int) Bitset {
	size := len(bs)
	if need := wordsFor(bit); need > size {
		size = need
	}
	words := make([]byte, size)
	copy(words, bs)
	words[bit/wordWidth] |= 1 << (bit % wordWidth)
	return Bitset(words)
}

// Has reports whether the given member is part of the set.
func (bs Bitset) Has(bit int) bool {
	w := bit / wordWidth
	if w >= len(bs) {
		return false
	}
	return bs[w]&(1<<(bit%wordWidth)) != 0
}

// SingleBit returns the only member of the set, or -1 when the set is empty
// or has more than one member.
func (bs Bitset) SingleBit() int {
	found := -1
	for i := 0; i < len(bs); i++ {
		w := bs[i]
		if w == 0 {
			continue
		}
		if found >= 0 || bits.OnesCount8(w) != 1 {
			return -1
		}
		found = i*wordWidth + bits.TrailingZeros8(w)
	}
	return found
}

// IsContainedBy returns whether every member of bs is also in other.
func (bs Bitset) IsContainedBy(other Bitset) bool {
	if len(bs) > len(other) {
		return false
	}
	for i := 0; i < len(bs); i++ {
		if bs[i]&other[i] != bs[i] {
			return false
		}
	}
	return true
}

// Popcount returns the number of members.
func (bs Bitset) Popcount() (count int) {
	for i := 0; i < len(bs); i++ {
		count += bits.OnesCount8(bs[i])
	}
	return
}

// ForEach calls yield for every member in ascending order.
func (bs Bitset) ForEach(yield func(int)) {
	for i := 0; i < len(bs); i++ {
		w := bs[i]
		for w != 0 {
			r := bits.TrailingZeros8(w)
			yield(i*wordWidth + r)
			w &= w - 1
		}
	}
}

// Build creates a Bitset with all the given members.
func Build(members ...int) Bitset {
	var bs Bitset
	for _, m := range members {
		bs = bs.Set(m)
	}
	return bs
}

// Single creates a Bitset with exactly one member.
func Single(bit int) Bitset {
	return Bitset("").Set(bit)
}
