package testsuite

import (
	"runtime"
	"testing"
	"time"
)

func isDestroyed(object interface{}) bool {
	destroyed := make(chan struct{})
	runtime.SetFinalizer(object, func(interface{}) {
		close(destroyed)
	})
	// total 3 second
	for i := 0; i < 12; i++ {
		runtime.GC()
		select {
		case <-destroyed:
			return true
		case <-time.After(250 * time.Millisecond):
		}
	}
	return false
}

// IsDestroyed is used to check if the object has been recycled by the GC.
func IsDestroyed(t testing.TB, object interface{}) {
	if !isDestroyed(object) {
		t.Fatal("object not destroyed")
	}
}

// Bytes is used to generate test data: []byte{0, 1, .... 254, 255}
func Bytes() []byte {
	testdata := make([]byte, 256)
	for i := 0; i < 256; i++ {
		testdata[i] = byte(i)
	}
	return testdata
}
