// Package testbed cross-checks the validator against an independent
// implementation: every module our validator accepts must also compile in
// the wazero runtime's decoder, and modules we reject must not be accepted
// there either.
package testbed

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-toolkit/wasm"
)

type moduleCase struct {
	name  string
	data  []byte
	valid bool
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func section(id byte, contents []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(contents)))...)
	return append(out, contents...)
}

func module(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func cases() []moduleCase {
	return []moduleCase{
		{
			name:  "minimal",
			data:  module(),
			valid: true,
		},
		{
			name:  "bad version",
			data:  []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00},
			valid: false,
		},
		{
			name: "identity function",
			data: module(
				section(1, []byte{0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F}),
				section(3, []byte{0x01, 0x00}),
				section(10, []byte{0x01, 0x04, 0x00, 0x20, 0x00, 0x0B}),
			),
			valid: true,
		},
		{
			name: "stack underflow",
			data: module(
				section(1, []byte{0x01, 0x60, 0x00, 0x00}),
				section(3, []byte{0x01, 0x00}),
				section(10, []byte{0x01, 0x03, 0x00, 0x6A, 0x0B}),
			),
			valid: false,
		},
		{
			name: "function and code mismatch",
			data: module(
				section(1, []byte{0x01, 0x60, 0x00, 0x00}),
				section(3, []byte{0x02, 0x00, 0x00}),
				section(10, []byte{0x01, 0x02, 0x00, 0x0B}),
			),
			valid: false,
		},
		{
			name: "memory with global",
			data: module(
				section(5, []byte{0x01, 0x00, 0x01}),
				section(6, []byte{0x01, 0x7F, 0x00, 0x41, 0x2A, 0x0B}),
			),
			valid: true,
		},
		{
			name: "start with wrong signature",
			data: module(
				section(1, []byte{0x01, 0x60, 0x01, 0x7F, 0x00}),
				section(3, []byte{0x01, 0x00}),
				section(8, []byte{0x00}),
				section(10, []byte{0x01, 0x02, 0x00, 0x0B}),
			),
			valid: false,
		},
	}
}

func TestDifferentialAgainstWazero(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	for _, tc := range cases() {
		t.Run(tc.name, func(t *testing.T) {
			_, ourErr := wasm.Validate(tc.data)
			compiled, wazeroErr := r.CompileModule(ctx, tc.data)
			if compiled != nil {
				defer compiled.Close(ctx)
			}

			if tc.valid {
				if ourErr != nil {
					t.Errorf("validator rejected a valid module: %v", ourErr)
				}
				if wazeroErr != nil {
					t.Errorf("wazero rejected a valid module: %v", wazeroErr)
				}
			} else {
				if ourErr == nil {
					t.Error("validator accepted an invalid module")
				}
				if wazeroErr == nil {
					t.Error("wazero accepted an invalid module")
				}
			}
		})
	}
}

func TestValidatorAgreesWithWazeroOnAcceptance(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	for _, tc := range cases() {
		t.Run(tc.name, func(t *testing.T) {
			_, ourErr := wasm.Validate(tc.data)
			compiled, wazeroErr := r.CompileModule(ctx, tc.data)
			if compiled != nil {
				defer compiled.Close(ctx)
			}
			if (ourErr == nil) != (wazeroErr == nil) {
				t.Errorf("disagreement: ours=%v wazero=%v", ourErr, wazeroErr)
			}
		})
	}
}
