package cleanup

import (
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

// Stop must not return while a retention pass is still running.
func TestStop_AwaitsInflightPass(t *testing.T) {
	w := NewWorker(nil)

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	w.cron.Schedule(cron.Every(time.Second), cron.FuncJob(func() {
		once.Do(func() { close(started) })
		<-release
	}))
	w.cron.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never started")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}
}
