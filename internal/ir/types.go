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

package ir

import (
    `fmt`
)

type DataType uint8

const (
    Void DataType = iota
    Bool
    Int32
    Int64
    Ref
    Float32
    Float64
)

var typeNames = [...]string {
    Void    : "void",
    Bool    : "bool",
    Int32   : "i32",
    Int64   : "i64",
    Ref     : "ref",
    Float32 : "f32",
    Float64 : "f64",
}

func (self DataType) IsFloat() bool {
    return self == Float32 || self == Float64
}

// Is64 reports whether the value needs 64 bits regardless of the pointer size.
func (self DataType) Is64() bool {
    return self == Int64 || self == Float64
}

func (self DataType) String() string {
    if int(self) < len(typeNames) {
        return typeNames[self]
    } else {
        return fmt.Sprintf("type(%d)", self)
    }
}

type Opcode uint8

const (
    OpNop Opcode = iota
    OpParameter
    OpConstant
    OpAdd
    OpSub
    OpMul
    OpAnd
    OpOr
    OpXor
    OpShl
    OpCompare
    OpLoad
    OpStore
    OpNullCheck
    OpCall
    OpCallIndirect
    OpSaveState
    OpPhi
    OpCatchPhi
    OpIf
    OpJump
    OpReturn
    OpReturnVoid
    OpThrow
    OpSpillFill
)

var opcodeNames = [...]string {
    OpNop          : "nop",
    OpParameter    : "parameter",
    OpConstant     : "constant",
    OpAdd          : "add",
    OpSub          : "sub",
    OpMul          : "mul",
    OpAnd          : "and",
    OpOr           : "or",
    OpXor          : "xor",
    OpShl          : "shl",
    OpCompare      : "compare",
    OpLoad         : "load",
    OpStore        : "store",
    OpNullCheck    : "nullcheck",
    OpCall         : "call",
    OpCallIndirect : "call.indirect",
    OpSaveState    : "savestate",
    OpPhi          : "phi",
    OpCatchPhi     : "catchphi",
    OpIf           : "if",
    OpJump         : "jump",
    OpReturn       : "return",
    OpReturnVoid   : "return.void",
    OpThrow        : "throw",
    OpSpillFill    : "spillfill",
}

func (self Opcode) String() string {
    if int(self) < len(opcodeNames) {
        return opcodeNames[self]
    } else {
        return fmt.Sprintf("op(%d)", self)
    }
}

func (self Opcode) IsTerminator() bool {
    switch self {
        case OpIf, OpJump, OpReturn, OpReturnVoid, OpThrow : return true
        default                                            : return false
    }
}

func (self Opcode) IsCall() bool {
    return self == OpCall || self == OpCallIndirect
}

// CanThrow reports whether the instruction may transfer control to a catch
// handler of its block.
func (self Opcode) CanThrow() bool {
    switch self {
        case OpCall, OpCallIndirect, OpNullCheck, OpThrow : return true
        default                                           : return false
    }
}

func (self Opcode) IsBinary() bool {
    switch self {
        case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpShl : return true
        default                                             : return false
    }
}
