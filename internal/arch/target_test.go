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
    `testing`

    `github.com/stretchr/testify/require`
)

func TestRegMask_Ops(t *testing.T) {
    m := MaskOf(0, 3, 5)
    require.True(t, m.Has(3))
    require.False(t, m.Has(4))
    require.False(t, m.Has(-1))
    require.False(t, m.Has(64))
    require.Equal(t, 3, m.Count())
    require.Equal(t, []int { 0, 3, 5 }, m.Regs())
    require.Equal(t, "{0,3,5}", m.String())
    m = m.Set(4).Clear(0)
    require.Equal(t, []int { 3, 4, 5 }, m.Regs())
    require.Equal(t, "{}", RegMask(0).String())
}

func TestTarget_Predefined(t *testing.T) {
    for _, name := range []string { "amd64", "amd64-avx512", "arm64", "arm32", "host" } {
        tr, ok := ByName(name)
        require.True(t, ok, name)
        require.NoError(t, tr.Validate(), name)
        require.NotEqual(t, NoReg, tr.GpScratchReg(), name)
        require.False(t, tr.GpAllocatable.Has(tr.GpScratchReg()), name)
        require.Positive(t, tr.StackSlots, name)
    }
    _, ok := ByName("riscv")
    require.False(t, ok)
}

func TestTarget_AMD64(t *testing.T) {
    tr := AMD64()
    require.Equal(t, "rax", tr.GpName(0))
    require.Equal(t, "r11", tr.GpName(tr.GpScratchReg()))
    require.Equal(t, "xmm15", tr.FpName(tr.FpScratchReg()))
    require.Equal(t, "rdi", tr.GpName(tr.GpParams[0]))
    require.False(t, tr.GpAllocatable.Has(4))
    require.False(t, tr.GpAllocatable.Has(5))
    require.Equal(t, 13, tr.GpAllocatable.Count())
    require.Equal(t, 15, tr.FpAllocatable.Count())
    require.Equal(t, 31, AMD64AVX512().FpAllocatable.Count())
    require.True(t, tr.HasFp())
}

func TestTarget_ARM(t *testing.T) {
    a64 := ARM64()
    require.Equal(t, 31, a64.ZeroReg)
    require.Equal(t, "xzr", a64.GpName(a64.ZeroReg))
    require.Equal(t, "x16", a64.GpName(a64.GpScratchReg()))
    require.False(t, a64.GpAllocatable.Has(a64.ZeroReg))

    /* soft-float with register pairs */
    a32 := ARM32()
    require.False(t, a32.HasFp())
    require.True(t, a32.RegisterPairs)
    require.Equal(t, "r12", a32.GpName(a32.GpScratchReg()))
    require.Equal(t, 5, a32.pairCount())
}

func TestTarget_Synthetic(t *testing.T) {
    tr := Synthetic(3, 0)
    require.NoError(t, tr.Validate())
    require.Equal(t, 4, tr.GpRegs())
    require.Equal(t, []int { 0, 1, 2 }, tr.GpAllocatable.Regs())
    require.Equal(t, 3, tr.GpScratchReg())
    require.False(t, tr.HasFp())
    require.Equal(t, NoReg, tr.FpScratchReg())
    require.Equal(t, "synthetic(gp=3/4, fp=0/0, pairs=false)", tr.String())

    /* with floating point registers */
    tr = Synthetic(2, 2)
    require.True(t, tr.HasFp())
    require.Equal(t, "f2", tr.FpName(tr.FpScratchReg()))
    require.Equal(t, "f?9", tr.FpName(9))
}

func TestTarget_Validate(t *testing.T) {
    tr := Synthetic(2, 0)
    tr.GpAllocatable = tr.GpAllocatable.Set(2)
    require.Error(t, tr.Validate())

    /* zero register must not be allocated */
    tr = Synthetic(2, 0)
    tr.ZeroReg = 1
    require.Error(t, tr.Validate())

    /* pairs need an even/odd allocatable couple */
    tr = Synthetic(1, 0)
    tr.RegisterPairs = true
    require.Error(t, tr.Validate())
}
