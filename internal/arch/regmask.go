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

package arch

import (
    `fmt`
    `math/bits`
    `strings`
)

// RegMask is a set of physical register numbers within one register class.
type RegMask uint64

func MaskOf(regs ...int) (m RegMask) {
    for _, r := range regs {
        m |= 1 << r
    }
    return
}

func (self RegMask) Has(r int) bool {
    return r >= 0 && r < 64 && self & (1 << r) != 0
}

func (self RegMask) Set(r int) RegMask {
    return self | (1 << r)
}

func (self RegMask) Clear(r int) RegMask {
    return self &^ (1 << r)
}

func (self RegMask) Count() int {
    return bits.OnesCount64(uint64(self))
}

// Regs returns the registers of the mask in ascending order.
func (self RegMask) Regs() []int {
    ret := make([]int, 0, self.Count())
    for m := uint64(self); m != 0; m &= m - 1 {
        ret = append(ret, bits.TrailingZeros64(m))
    }
    return ret
}

func (self RegMask) String() string {
    regs := self.Regs()
    strs := make([]string, len(regs))
    for i, r := range regs {
        strs[i] = fmt.Sprint(r)
    }
    return "{" + strings.Join(strs, ",") + "}"
}
