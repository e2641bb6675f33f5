package wasm

import (
	"github.com/wippyai/wasm-toolkit/errors"
)

// simdUnary lists sub-opcodes that consume one v128 and produce one v128.
// Everything valid that is not otherwise classified is treated as a binary
// v128 operation.
var simdUnary = map[uint32]struct{}{
	0x4d: {}, // v128.not
	0x5e: {}, // f32x4.demote_f64x2_zero
	0x5f: {}, // f64x2.promote_low_f32x4
	0x60: {}, // i8x16.abs
	0x61: {}, // i8x16.neg
	0x62: {}, // i8x16.popcnt
	0x67: {}, // f32x4.ceil
	0x68: {}, // f32x4.floor
	0x69: {}, // f32x4.trunc
	0x6a: {}, // f32x4.nearest
	0x74: {}, // f64x2.ceil
	0x75: {}, // f64x2.floor
	0x7a: {}, // f64x2.trunc
	0x94: {}, // f64x2.nearest
	0x7c: {}, // i16x8.extadd_pairwise_i8x16_s
	0x7d: {}, // i16x8.extadd_pairwise_i8x16_u
	0x7e: {}, // i32x4.extadd_pairwise_i16x8_s
	0x7f: {}, // i32x4.extadd_pairwise_i16x8_u
	0x80: {}, // i16x8.abs
	0x81: {}, // i16x8.neg
	0x87: {}, // i16x8.extend_low_i8x16_s
	0x88: {}, // i16x8.extend_high_i8x16_s
	0x89: {}, // i16x8.extend_low_i8x16_u
	0x8a: {}, // i16x8.extend_high_i8x16_u
	0xa0: {}, // i32x4.abs
	0xa1: {}, // i32x4.neg
	0xa7: {}, // i32x4.extend_low_i16x8_s
	0xa8: {}, // i32x4.extend_high_i16x8_s
	0xa9: {}, // i32x4.extend_low_i16x8_u
	0xaa: {}, // i32x4.extend_high_i16x8_u
	0xc0: {}, // i64x2.abs
	0xc1: {}, // i64x2.neg
	0xc7: {}, // i64x2.extend_low_i32x4_s
	0xc8: {}, // i64x2.extend_high_i32x4_s
	0xc9: {}, // i64x2.extend_low_i32x4_u
	0xca: {}, // i64x2.extend_high_i32x4_u
	0xe0: {}, // f32x4.abs
	0xe1: {}, // f32x4.neg
	0xe3: {}, // f32x4.sqrt
	0xec: {}, // f64x2.abs
	0xed: {}, // f64x2.neg
	0xef: {}, // f64x2.sqrt
	0xf8: {}, // i32x4.trunc_sat_f32x4_s
	0xf9: {}, // i32x4.trunc_sat_f32x4_u
	0xfa: {}, // f32x4.convert_i32x4_s
	0xfb: {}, // f32x4.convert_i32x4_u
	0xfc: {}, // i32x4.trunc_sat_f64x2_s_zero
	0xfd: {}, // i32x4.trunc_sat_f64x2_u_zero
	0xfe: {}, // f64x2.convert_low_i32x4_s
	0xff: {}, // f64x2.convert_low_i32x4_u
}

// simdToI32 lists sub-opcodes that consume one v128 and produce an i32.
var simdToI32 = map[uint32]struct{}{
	0x53: {}, // v128.any_true
	0x63: {}, // i8x16.all_true
	0x64: {}, // i8x16.bitmask
	0x83: {}, // i16x8.all_true
	0x84: {}, // i16x8.bitmask
	0xa3: {}, // i32x4.all_true
	0xa4: {}, // i32x4.bitmask
	0xc3: {}, // i64x2.all_true
	0xc4: {}, // i64x2.bitmask
}

// simdShift lists shift sub-opcodes: [v128, i32] -> [v128].
var simdShift = map[uint32]struct{}{
	0x6b: {}, 0x6c: {}, 0x6d: {}, // i8x16 shl/shr_s/shr_u
	0x8b: {}, 0x8c: {}, 0x8d: {}, // i16x8
	0xab: {}, 0xac: {}, 0xad: {}, // i32x4
	0xcb: {}, 0xcc: {}, 0xcd: {}, // i64x2
}

// simdLaneCount returns the number of lanes for a lane-indexed sub-opcode.
func simdLaneCount(subOp uint32) byte {
	switch subOp {
	case SimdI8x16ExtractLaneS, SimdI8x16ExtractLaneU, SimdI8x16ReplaceLane,
		SimdV128Load8Lane, SimdV128Store8Lane:
		return 16
	case SimdI16x8ExtractLaneS, SimdI16x8ExtractLaneU, SimdI16x8ReplaceLane,
		SimdV128Load16Lane, SimdV128Store16Lane:
		return 8
	case SimdI32x4ExtractLane, SimdI32x4ReplaceLane, SimdF32x4ExtractLane,
		SimdF32x4ReplaceLane, SimdV128Load32Lane, SimdV128Store32Lane:
		return 4
	default:
		return 2
	}
}

// simdLaneScalar returns the scalar type moved by an extract/replace lane op.
func simdLaneScalar(subOp uint32) ValType {
	switch subOp {
	case SimdI8x16ExtractLaneS, SimdI8x16ExtractLaneU, SimdI8x16ReplaceLane,
		SimdI16x8ExtractLaneS, SimdI16x8ExtractLaneU, SimdI16x8ReplaceLane,
		SimdI32x4ExtractLane, SimdI32x4ReplaceLane:
		return ValI32
	case SimdI64x2ExtractLane, SimdI64x2ReplaceLane:
		return ValI64
	case SimdF32x4ExtractLane, SimdF32x4ReplaceLane:
		return ValF32
	default:
		return ValF64
	}
}

func (st *funcState) stepSIMD(imm SIMDImm) error {
	if !st.fv.features.SIMD {
		return errors.Unsupported(st.offset, "SIMD support is not enabled")
	}
	subOp := imm.SubOpcode
	if subOp >= SimdRelaxedFirst && subOp <= SimdRelaxedLast {
		if !st.fv.features.RelaxedSIMD {
			return errors.Unsupported(st.offset, "relaxed SIMD support is not enabled")
		}
		return st.stepRelaxedSIMD(subOp)
	}

	switch {
	case subOp <= SimdV128Load64Splat || subOp == SimdV128Load32Zero || subOp == SimdV128Load64Zero:
		// v128 loads, including splat, extend, and zero variants
		align := simdLoadAlign(subOp)
		addr, err := st.checkMemArg(*imm.MemArg, align)
		if err != nil {
			return err
		}
		if err := st.popExpected(addr); err != nil {
			return err
		}
		st.pushVal(ValV128)

	case subOp == SimdV128Store:
		addr, err := st.checkMemArg(*imm.MemArg, 4)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValV128); err != nil {
			return err
		}
		return st.popExpected(addr)

	case subOp == SimdV128Const:
		st.pushVal(ValV128)

	case subOp == SimdI8x16Shuffle:
		for _, lane := range imm.V128Bytes {
			if lane >= 32 {
				return st.invalid("invalid lane index %d for i8x16.shuffle", lane)
			}
		}
		return st.binop(ValV128)

	case subOp == SimdI8x16Swizzle:
		return st.binop(ValV128)

	case subOp >= SimdI8x16Splat && subOp <= SimdF64x2Splat:
		scalar := [...]ValType{ValI32, ValI32, ValI32, ValI64, ValF32, ValF64}[subOp-SimdI8x16Splat]
		return st.convert(scalar, ValV128)

	case subOp >= SimdI8x16ExtractLaneS && subOp <= SimdF64x2ReplaceLane:
		if *imm.LaneIdx >= simdLaneCount(subOp) {
			return st.invalid("invalid lane index %d", *imm.LaneIdx)
		}
		scalar := simdLaneScalar(subOp)
		if isReplaceLane(subOp) {
			if err := st.popExpected(scalar); err != nil {
				return err
			}
			if err := st.popExpected(ValV128); err != nil {
				return err
			}
			st.pushVal(ValV128)
		} else {
			return st.convert(ValV128, scalar)
		}

	case subOp >= SimdV128Load8Lane && subOp <= SimdV128Store64Lane:
		if *imm.LaneIdx >= simdLaneCount(subOp) {
			return st.invalid("invalid lane index %d", *imm.LaneIdx)
		}
		align := laneOpAlign(subOp)
		addr, err := st.checkMemArg(*imm.MemArg, align)
		if err != nil {
			return err
		}
		if err := st.popExpected(ValV128); err != nil {
			return err
		}
		if err := st.popExpected(addr); err != nil {
			return err
		}
		if subOp <= SimdV128Load64Lane {
			st.pushVal(ValV128)
		}

	case subOp == 0x52: // v128.bitselect
		if err := st.popExpected(ValV128); err != nil {
			return err
		}
		return st.binop(ValV128)

	default:
		if _, ok := simdToI32[subOp]; ok {
			return st.convert(ValV128, ValI32)
		}
		if _, ok := simdShift[subOp]; ok {
			if err := st.popExpected(ValI32); err != nil {
				return err
			}
			return st.unop(ValV128)
		}
		if _, ok := simdUnary[subOp]; ok {
			return st.unop(ValV128)
		}
		if subOp >= SimdLastOpcode {
			return errors.Malformed(st.offset, "unknown 0xfd sub-opcode: 0x%02x", subOp)
		}
		// Remaining operations are lane-wise binary: [v128, v128] -> [v128]
		return st.binop(ValV128)
	}
	return nil
}

func isReplaceLane(subOp uint32) bool {
	switch subOp {
	case SimdI8x16ReplaceLane, SimdI16x8ReplaceLane, SimdI32x4ReplaceLane,
		SimdI64x2ReplaceLane, SimdF32x4ReplaceLane, SimdF64x2ReplaceLane:
		return true
	}
	return false
}

func simdLoadAlign(subOp uint32) uint32 {
	switch subOp {
	case SimdV128Load:
		return 4
	case SimdV128Load8Splat:
		return 0
	case SimdV128Load16Splat:
		return 1
	case SimdV128Load32Splat, SimdV128Load32Zero:
		return 2
	default:
		// 64-bit splat/zero and the 8x8/16x4/32x2 extending loads
		return 3
	}
}

func laneOpAlign(subOp uint32) uint32 {
	switch subOp {
	case SimdV128Load8Lane, SimdV128Store8Lane:
		return 0
	case SimdV128Load16Lane, SimdV128Store16Lane:
		return 1
	case SimdV128Load32Lane, SimdV128Store32Lane:
		return 2
	default:
		return 3
	}
}

// stepRelaxedSIMD types the relaxed SIMD operations: fused multiply
// variants are ternary, laneselects are ternary, the rest follow the
// unary/binary split.
func (st *funcState) stepRelaxedSIMD(subOp uint32) error {
	switch subOp {
	case 0x100, 0x101, 0x102, 0x103, 0x104: // relaxed swizzle, trunc variants
		if subOp == 0x100 {
			return st.binop(ValV128)
		}
		return st.unop(ValV128)
	case 0x105, 0x106, 0x107, 0x108, 0x109, 0x10a, 0x10b, 0x10c: // madd/nmadd, laneselect
		if err := st.popExpected(ValV128); err != nil {
			return err
		}
		return st.binop(ValV128)
	default:
		return st.binop(ValV128)
	}
}
