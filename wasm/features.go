package wasm

import "github.com/wippyai/wasm-toolkit/errors"

// Features holds the enabled WebAssembly proposal flags, dictating what the
// validator accepts.
type Features struct {
	MutableGlobal          bool
	SaturatingFloatToInt   bool
	SignExtension          bool
	ReferenceTypes         bool
	MultiValue             bool
	BulkMemory             bool
	SIMD                   bool
	RelaxedSIMD            bool
	Threads                bool
	TailCall               bool
	DeterministicOnly      bool
	MultiMemory            bool
	Exceptions             bool
	Memory64               bool
	ExtendedConst          bool
	ComponentModel         bool
}

// DefaultFeatures returns the default feature set: the finished proposals
// plus SIMD enabled, everything else off.
func DefaultFeatures() Features {
	return Features{
		MutableGlobal:        true,
		SaturatingFloatToInt: true,
		SignExtension:        true,
		ReferenceTypes:       true,
		MultiValue:           true,
		BulkMemory:           true,
		SIMD:                 true,
	}
}

// CheckValType rejects value types whose governing proposal is not enabled.
func (f *Features) CheckValType(t ValType, offset int) error {
	switch t {
	case ValI32, ValI64, ValF32, ValF64:
		return nil
	case ValFuncRef, ValExtern:
		if f.ReferenceTypes {
			return nil
		}
		return errors.Unsupported(offset, "reference types support is not enabled")
	case ValV128:
		if f.SIMD {
			return nil
		}
		return errors.Unsupported(offset, "SIMD support is not enabled")
	default:
		return errors.Malformed(offset, "invalid value type 0x%02x", byte(t))
	}
}

func (f *Features) maxTables() int {
	if f.ReferenceTypes {
		return MaxTables
	}
	return 1
}

func (f *Features) maxMemories() int {
	if f.MultiMemory {
		return MaxMemories
	}
	return 1
}
