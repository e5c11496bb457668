/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package regalloc

import (
    `math/bits`
)

// liveSet is a dense bit set over instruction ids.
type liveSet []uint64

func newLiveSet(n int) liveSet {
    return make(liveSet, (n + 63) / 64)
}

func (self liveSet) add(id int)         { self[id >> 6] |= 1 << (id & 63) }
func (self liveSet) remove(id int)      { self[id >> 6] &^= 1 << (id & 63) }
func (self liveSet) has(id int) bool    { return self[id >> 6] & (1 << (id & 63)) != 0 }

func (self liveSet) union(other liveSet) {
    for i, v := range other {
        self[i] |= v
    }
}

func (self liveSet) clone() liveSet {
    return append(liveSet(nil), self...)
}

func (self liveSet) forEach(fn func(id int)) {
    for i, w := range self {
        for ; w != 0; w &= w - 1 {
            fn(i << 6 | bits.TrailingZeros64(w))
        }
    }
}
