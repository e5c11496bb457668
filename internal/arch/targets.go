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
    `runtime`
    `strconv`
    `strings`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/klauspost/cpuid/v2`
    `golang.org/x/arch/arm/armasm`
    `golang.org/x/arch/arm64/arm64asm`
    `golang.org/x/arch/x86/x86asm`
)

/* register numbers on AMD64 are the hardware encodings used by the assembler */
var amd64Gp = [...]x86asm.Reg {
    x86_64.RAX : x86asm.RAX,
    x86_64.RCX : x86asm.RCX,
    x86_64.RDX : x86asm.RDX,
    x86_64.RBX : x86asm.RBX,
    x86_64.RSP : x86asm.RSP,
    x86_64.RBP : x86asm.RBP,
    x86_64.RSI : x86asm.RSI,
    x86_64.RDI : x86asm.RDI,
    x86_64.R8  : x86asm.R8,
    x86_64.R9  : x86asm.R9,
    x86_64.R10 : x86asm.R10,
    x86_64.R11 : x86asm.R11,
    x86_64.R12 : x86asm.R12,
    x86_64.R13 : x86asm.R13,
    x86_64.R14 : x86asm.R14,
    x86_64.R15 : x86asm.R15,
}

func amd64Names(fp int) (gp []string, xmm []string) {
    for _, r := range amd64Gp {
        gp = append(gp, strings.ToLower(r.String()))
    }
    for i := 0; i < fp; i++ {
        xmm = append(xmm, "xmm" + strconv.Itoa(i))
    }
    return
}

func amd64(fp int) *Target {
    gp, xmm := amd64Names(fp)
    all := RegMask(1 << len(gp) - 1)
    fpall := RegMask(1 << fp - 1)

    /* rsp and rbp frame the stack, r11 and the last xmm are reserved for the resolvers */
    reserved := MaskOf(int(x86_64.RSP), int(x86_64.RBP))
    scratch := MaskOf(int(x86_64.R11))
    fpscratch := MaskOf(fp - 1)

    /* System V calling convention */
    return &Target {
        Name            : "amd64",
        GpNames         : gp,
        FpNames         : xmm,
        GpAllocatable   : all &^ reserved &^ scratch,
        FpAllocatable   : fpall &^ fpscratch,
        GpCallerSaved   : MaskOf(
            int(x86_64.RAX), int(x86_64.RCX), int(x86_64.RDX), int(x86_64.RSI), int(x86_64.RDI),
            int(x86_64.R8), int(x86_64.R9), int(x86_64.R10), int(x86_64.R11),
        ),
        FpCallerSaved   : fpall,
        GpScratch       : scratch,
        FpScratch       : fpscratch,
        GpParams        : []int {
            int(x86_64.RDI), int(x86_64.RSI), int(x86_64.RDX), int(x86_64.RCX), int(x86_64.R8), int(x86_64.R9),
        },
        FpParams        : []int { 0, 1, 2, 3, 4, 5, 6, 7 },
        GpReturn        : int(x86_64.RAX),
        FpReturn        : 0,
        ZeroReg         : NoReg,
        IndirectCallReg : int(x86_64.R10),
        StackSlots      : 1024,
    }
}

// AMD64 returns the x86-64 System V target with the baseline 16 XMM registers.
func AMD64() *Target {
    return amd64(16)
}

// AMD64AVX512 exposes XMM16 to XMM31, which require the EVEX encoding.
func AMD64AVX512() *Target {
    ret := amd64(32)
    ret.Name = "amd64-avx512"
    return ret
}

// ARM64 returns the AAPCS64 target. X31 is the zero register in operand
// position, X16 and D31 are reserved for the resolvers.
func ARM64() *Target {
    var gp []string
    var fp []string

    /* X0 ~ X30 and XZR */
    for i := 0; i <= 30; i++ {
        gp = append(gp, (arm64asm.X0 + arm64asm.Reg(i)).String())
    }
    for i := 0; i < 32; i++ {
        fp = append(fp, (arm64asm.D0 + arm64asm.Reg(i)).String())
    }

    /* build the register sets */
    gp = append(gp, arm64asm.XZR.String())
    all := RegMask(1 << 31 - 1)
    reserved := MaskOf(17, 18, 29, 30)
    scratch := MaskOf(16)

    /* D8 ~ D15 are callee-saved */
    return &Target {
        Name            : "arm64",
        GpNames         : lower(gp),
        FpNames         : lower(fp),
        GpAllocatable   : all &^ reserved &^ scratch,
        FpAllocatable   : RegMask(1 << 31 - 1),
        GpCallerSaved   : RegMask(1 << 18 - 1),
        FpCallerSaved   : RegMask(1 << 32 - 1) &^ RegMask(0xff00),
        GpScratch       : scratch,
        FpScratch       : MaskOf(31),
        GpParams        : []int { 0, 1, 2, 3, 4, 5, 6, 7 },
        FpParams        : []int { 0, 1, 2, 3, 4, 5, 6, 7 },
        GpReturn        : 0,
        FpReturn        : 0,
        ZeroReg         : 31,
        IndirectCallReg : 9,
        StackSlots      : 1024,
    }
}

// ARM32 returns a soft-float AAPCS target: floats travel in core registers and
// every 64-bit value occupies an even/odd register pair or two stack slots.
func ARM32() *Target {
    var gp []string
    for i := 0; i < 16; i++ {
        gp = append(gp, (armasm.R0 + armasm.Reg(i)).String())
    }

    /* R11 is the frame pointer, R13 ~ R15 are SP, LR and PC */
    all := RegMask(1 << 16 - 1)
    reserved := MaskOf(11, 13, 14, 15)
    scratch := MaskOf(12)

    /* build the target */
    return &Target {
        Name            : "arm32",
        GpNames         : lower(gp),
        GpAllocatable   : all &^ reserved &^ scratch,
        GpCallerSaved   : MaskOf(0, 1, 2, 3, 12),
        GpScratch       : scratch,
        GpParams        : []int { 0, 1, 2, 3 },
        GpReturn        : 0,
        FpReturn        : NoReg,
        ZeroReg         : NoReg,
        IndirectCallReg : 4,
        RegisterPairs   : true,
        StackSlots      : 1024,
    }
}

// Synthetic returns a target with `gp` general purpose and `fp` floating point
// allocatable registers, one scratch register per class and every register
// caller-saved. All parameters are passed on the stack.
func Synthetic(gp int, fp int) *Target {
    var gpn []string
    var fpn []string

    /* the scratch register follows the allocatable ones */
    for i := 0; i <= gp; i++ {
        gpn = append(gpn, "r" + strconv.Itoa(i))
    }

    /* fp class is optional */
    if fp > 0 {
        for i := 0; i <= fp; i++ {
            fpn = append(fpn, "f" + strconv.Itoa(i))
        }
    }

    /* build the target */
    ret := &Target {
        Name            : "synthetic",
        GpNames         : gpn,
        FpNames         : fpn,
        GpAllocatable   : RegMask(1 << gp - 1),
        GpCallerSaved   : RegMask(1 << (gp + 1) - 1),
        GpScratch       : MaskOf(gp),
        GpReturn        : 0,
        FpReturn        : NoReg,
        ZeroReg         : NoReg,
        IndirectCallReg : NoReg,
        StackSlots      : 1024,
    }

    /* fill the fp class if any */
    if fp > 0 {
        ret.FpReturn = 0
        ret.FpAllocatable = RegMask(1 << fp - 1)
        ret.FpCallerSaved = RegMask(1 << (fp + 1) - 1)
        ret.FpScratch = MaskOf(fp)
    }
    return ret
}

// Host returns the target matching the running machine.
func Host() *Target {
    switch runtime.GOARCH {
        case "arm64" : return ARM64()
        case "arm"   : return ARM32()
        default      : return hostAMD64()
    }
}

func hostAMD64() *Target {
    if cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512VL) {
        return AMD64AVX512()
    } else {
        return AMD64()
    }
}

// ByName looks up one of the predefined targets.
func ByName(name string) (*Target, bool) {
    switch name {
        case "amd64"        : return AMD64(), true
        case "amd64-avx512" : return AMD64AVX512(), true
        case "arm64"        : return ARM64(), true
        case "arm32"        : return ARM32(), true
        case "host"         : return Host(), true
        default             : return nil, false
    }
}
