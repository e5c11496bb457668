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
    `strings`
)

// NoReg marks an absent register in a Target description.
const NoReg = -1

// Target describes the register file and calling convention a function is
// allocated for. Register numbers are indices into the class's name table.
type Target struct {
    Name            string
    GpNames         []string
    FpNames         []string
    GpAllocatable   RegMask
    FpAllocatable   RegMask
    GpCallerSaved   RegMask
    FpCallerSaved   RegMask
    GpScratch       RegMask
    FpScratch       RegMask
    GpParams        []int
    FpParams        []int
    GpReturn        int
    FpReturn        int
    ZeroReg         int
    IndirectCallReg int
    RegisterPairs   bool
    StackSlots      int
}

func (self *Target) GpRegs() int { return len(self.GpNames) }
func (self *Target) FpRegs() int { return len(self.FpNames) }

// HasFp reports whether floating point values get their own register class.
// Targets without one carry floats in general purpose registers.
func (self *Target) HasFp() bool {
    return self.FpAllocatable != 0
}

// GpScratchReg returns the lowest general purpose scratch register, or NoReg.
func (self *Target) GpScratchReg() int {
    return firstOf(self.GpScratch)
}

func (self *Target) FpScratchReg() int {
    return firstOf(self.FpScratch)
}

func (self *Target) GpName(r int) string {
    if r >= 0 && r < len(self.GpNames) {
        return self.GpNames[r]
    } else {
        return fmt.Sprintf("r?%d", r)
    }
}

func (self *Target) FpName(r int) string {
    if r >= 0 && r < len(self.FpNames) {
        return self.FpNames[r]
    } else {
        return fmt.Sprintf("f?%d", r)
    }
}

// Validate checks the internal consistency of a target description.
func (self *Target) Validate() error {
    if len(self.GpNames) == 0 || len(self.GpNames) > 64 || len(self.FpNames) > 64 {
        return fmt.Errorf("arch: %s: invalid register file size", self.Name)
    }

    /* scratch registers are never handed out */
    if self.GpAllocatable & self.GpScratch != 0 || self.FpAllocatable & self.FpScratch != 0 {
        return fmt.Errorf("arch: %s: scratch registers overlap the allocatable set", self.Name)
    }

    /* the zero register holds a constant and cannot be allocated */
    if self.ZeroReg != NoReg && self.GpAllocatable.Has(self.ZeroReg) {
        return fmt.Errorf("arch: %s: zero register is allocatable", self.Name)
    }

    /* pairs are formed by an even register and its odd neighbour */
    if self.RegisterPairs && self.pairCount() == 0 {
        return fmt.Errorf("arch: %s: no allocatable register pairs", self.Name)
    }
    return nil
}

func (self *Target) pairCount() (n int) {
    for r := 0; r + 1 < len(self.GpNames); r += 2 {
        if self.GpAllocatable.Has(r) && self.GpAllocatable.Has(r + 1) {
            n++
        }
    }
    return
}

func (self *Target) String() string {
    return fmt.Sprintf(
        "%s(gp=%d/%d, fp=%d/%d, pairs=%v)",
        self.Name,
        self.GpAllocatable.Count(),
        len(self.GpNames),
        self.FpAllocatable.Count(),
        len(self.FpNames),
        self.RegisterPairs,
    )
}

func firstOf(m RegMask) int {
    if regs := m.Regs(); len(regs) != 0 {
        return regs[0]
    } else {
        return NoReg
    }
}

func lower(names []string) []string {
    for i, v := range names {
        names[i] = strings.ToLower(v)
    }
    return names
}
