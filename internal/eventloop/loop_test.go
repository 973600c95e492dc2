package eventloop

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestRunOnceDispatchesReadyHandler(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer readEnd.Close()
	defer writeEnd.Close()

	loop := New()
	fired := false
	loop.Add(int(readEnd.Fd()), unix.POLLIN, func(revents int16) {
		fired = true
		var buf [16]byte
		unix.Read(int(readEnd.Fd()), buf[:])
	})

	if err := loop.RunOnce(0); err != nil {
		t.Fatalf("RunOnce before write: %v", err)
	}
	if fired {
		t.Fatal("handler fired before the pipe had data")
	}

	if _, err := writeEnd.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := loop.RunOnce(1000); err != nil {
		t.Fatalf("RunOnce after write: %v", err)
	}
	if !fired {
		t.Fatal("handler did not fire after the pipe became readable")
	}
}

func TestRemoveDuringDispatchIsSafe(t *testing.T) {
	readEndA, writeEndA, _ := os.Pipe()
	readEndB, writeEndB, _ := os.Pipe()
	defer readEndA.Close()
	defer writeEndA.Close()
	defer readEndB.Close()
	defer writeEndB.Close()

	loop := New()
	var bFired bool
	loop.Add(int(readEndA.Fd()), unix.POLLIN, func(revents int16) {
		loop.Remove(int(readEndB.Fd()))
	})
	loop.Add(int(readEndB.Fd()), unix.POLLIN, func(revents int16) {
		bFired = true
	})

	writeEndA.Write([]byte("x"))
	writeEndB.Write([]byte("x"))

	if err := loop.RunOnce(1000); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// Whether bFired happens to run before or after the removal in
	// this same pass is unspecified (map iteration order), but the
	// call must not panic, and a second pass must reflect the removal.
	_ = bFired

	if err := loop.RunOnce(0); err != nil {
		t.Fatalf("RunOnce after removal: %v", err)
	}
	if loop.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after removing b", loop.Len())
	}
}
