package wasm_test

import (
	"sync"
	"testing"

	"github.com/wippyai/wasm-toolkit/wasm"
)

func TestTypeListPushGet(t *testing.T) {
	l := wasm.NewTypeList()
	ft := &wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	id := l.PushFunc(ft)
	if id != 0 {
		t.Fatalf("expected first ID 0, got %d", id)
	}
	if got := l.FuncAt(id); got != ft {
		t.Error("expected to get the pushed signature back")
	}
	if l.Get(wasm.TypeID(7)) != nil {
		t.Error("expected nil for out-of-range ID")
	}
}

func TestTypeListSnapshotIsStable(t *testing.T) {
	l := wasm.NewTypeList()
	first := l.PushFunc(&wasm.FuncType{})

	snap := l.Commit()
	if snap.Len() != 1 {
		t.Fatalf("expected snapshot length 1, got %d", snap.Len())
	}

	// Appending after commit must not disturb the snapshot.
	for i := 0; i < 100; i++ {
		l.PushFunc(&wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}})
	}
	if snap.Len() != 1 {
		t.Errorf("snapshot grew to %d", snap.Len())
	}
	if snap.FuncAt(first) == nil {
		t.Error("snapshot lost its definition")
	}
	if snap.Get(wasm.TypeID(1)) != nil {
		t.Error("snapshot exposed definitions past its prefix")
	}
}

func TestTypeListSnapshotSharedAcrossGoroutines(t *testing.T) {
	l := wasm.NewTypeList()
	l.Reserve(8)
	id := l.PushFunc(&wasm.FuncType{Results: []wasm.ValType{wasm.ValF64}})
	snap := l.Commit()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if ft := snap.FuncAt(id); ft == nil || ft.Results[0] != wasm.ValF64 {
					panic("snapshot read failed")
				}
			}
		}()
	}
	// The live list keeps growing while readers are active.
	for i := 0; i < 1000; i++ {
		l.PushFunc(&wasm.FuncType{})
	}
	wg.Wait()
}

func TestTypeListMultipleSnapshots(t *testing.T) {
	l := wasm.NewTypeList()
	l.PushFunc(&wasm.FuncType{})
	first := l.Commit()
	l.PushFunc(&wasm.FuncType{})
	second := l.Commit()

	if first.Len() != 1 || second.Len() != 2 {
		t.Errorf("unexpected snapshot lengths: %d, %d", first.Len(), second.Len())
	}
}
