package framecache

import (
	"sync"
	"testing"
	"time"
)

func TestEmptyCache(t *testing.T) {
	var c Cache
	if f, ok := c.Latest(); ok || f != nil {
		t.Fatalf("Latest on empty cache = %v, %v; want nil, false", f, ok)
	}
}

func TestLastWriteWins(t *testing.T) {
	var c Cache

	c.Set(&Frame{Width: 640, Height: 480})
	c.Set(&Frame{Width: 1920, Height: 1080})

	f, ok := c.Latest()
	if !ok {
		t.Fatal("Latest returned false after Set")
	}
	if f.Width != 1920 || f.Height != 1080 {
		t.Errorf("Latest = %dx%d, want 1920x1080", f.Width, f.Height)
	}
}

func TestConcurrentAccess(t *testing.T) {
	var c Cache
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Set(&Frame{Width: 640, Height: 480, CapturedAt: time.Now()})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if f, ok := c.Latest(); ok && f.Width != 640 {
					t.Errorf("torn read: width %d", f.Width)
					return
				}
			}
		}()
	}
	wg.Wait()
}
