package recorder

import (
	"context"
	"testing"
	"time"
)

// Session field writes happen under the controller lock, so Status and Active
// copies must stay consistent while the monitor or an operator stop mutates
// state. Run with -race.
func TestStatusSafeWhileMonitorMutates(t *testing.T) {
	c := NewController(nil, nil)

	proc, err := startRecorder(context.Background(), []string{"sh", "-c", "sleep 0.1"})
	if err != nil {
		t.Fatal(err)
	}
	sess := &Session{Interface: "enxa", State: StateRecording, proc: proc}
	c.mu.Lock()
	c.sessions["enxa"] = sess
	c.mu.Unlock()

	go c.monitor(sess)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.Active()
		if s, ok := c.Status("enxa"); ok && s.State == StateError {
			if len(s.MonitorErrors) == 0 {
				t.Fatal("lost camera recorded no monitor error")
			}
			return
		}
	}
	t.Fatal("monitor never flagged the lost camera")
}

func TestStopDuringArmingCancels(t *testing.T) {
	c := NewController(nil, nil)
	sess := &Session{Interface: "enxa", State: StateArming}
	c.mu.Lock()
	c.sessions["enxa"] = sess
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			c.Status("enxa")
			c.Active()
		}
	}()

	if _, err := c.Stop(context.Background(), "enxa"); err == nil {
		t.Fatal("expected a cancellation error")
	}
	<-done

	s, ok := c.Status("enxa")
	if !ok {
		t.Fatal("cancelled session should stay visible")
	}
	if s.State != StateIdle || s.ArmError == "" {
		t.Fatalf("state = %s, armError = %q", s.State, s.ArmError)
	}
}
