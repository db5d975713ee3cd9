package device

import (
	"sync/atomic"
	"testing"
)

func TestMallocFree(t *testing.T) {
	ctx := NewContext(Default())
	defer ctx.Destroy()

	ptr, err := ctx.Malloc(1024)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if ptr.Size() != 1024 {
		t.Errorf("expected size 1024, got %d", ptr.Size())
	}

	if err := ctx.Free(ptr); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
}

func TestPoolReuseZeroes(t *testing.T) {
	ctx := NewContext(Default())
	defer ctx.Destroy()

	ptr, err := ctx.Malloc(256)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	buf := ptr.Float32()
	for i := range buf {
		buf[i] = 42
	}
	if err := ctx.Free(ptr); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	// The pool recycles the freed block; it must come back cleared.
	ptr2, err := ctx.Malloc(256)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer ctx.Free(ptr2)
	for i, v := range ptr2.Float32() {
		if v != 0 {
			t.Fatalf("reused allocation not cleared at %d: %v", i, v)
		}
	}
}

func TestMemcpyRoundTrip(t *testing.T) {
	ctx := NewContext(Default())
	defer ctx.Destroy()

	src := make([]float32, 64)
	for i := range src {
		src[i] = float32(i) * 0.5
	}

	ptr, err := ctx.Malloc(len(src) * 4)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer ctx.Free(ptr)

	if err := ctx.Memcpy(ptr, src, len(src)*4, MemcpyHostToDevice); err != nil {
		t.Fatalf("Memcpy H2D failed: %v", err)
	}

	dst := make([]float32, 64)
	if err := ctx.Memcpy(dst, ptr, len(dst)*4, MemcpyDeviceToHost); err != nil {
		t.Fatalf("Memcpy D2H failed: %v", err)
	}

	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("round trip mismatch at %d: got %v, want %v", i, dst[i], src[i])
		}
	}
}

func TestLaunchCoversGrid(t *testing.T) {
	ctx := NewContext(Default())
	defer ctx.Destroy()

	const n = 1000
	data := make([]int32, n)

	grid := Dim3{X: 4, Y: 1, Z: 1}
	block := Dim3{X: 256, Y: 1, Z: 1}
	err := ctx.Launch(func(tid ThreadID) {
		idx := tid.Global()
		if idx < n {
			atomic.AddInt32(&data[idx], 1)
		}
	}, grid, block)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	for i, v := range data {
		if v != 1 {
			t.Fatalf("element %d touched %d times, want exactly once", i, v)
		}
	}
}

func TestStreamOrdering(t *testing.T) {
	ctx := NewContext(Default())
	defer ctx.Destroy()

	var counter int64
	one := Dim3{X: 1, Y: 1, Z: 1}

	// Sequential launches on the default stream must observe each
	// other's writes.
	for i := 0; i < 10; i++ {
		want := int64(i)
		err := ctx.Launch(func(ThreadID) {
			if atomic.LoadInt64(&counter) != want {
				t.Errorf("launch %d ran out of order", want)
			}
			atomic.AddInt64(&counter, 1)
		}, one, one)
		if err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if counter != 10 {
		t.Errorf("expected 10 launches, got %d", counter)
	}
}

func TestEmptyLaunch(t *testing.T) {
	ctx := NewContext(Default())
	defer ctx.Destroy()

	ran := false
	err := ctx.Launch(func(ThreadID) { ran = true }, Dim3{}, Dim3{})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if ran {
		t.Error("empty grid must not execute the kernel")
	}
}
