package recorder

import (
	"context"
	"testing"
	"time"
)

func TestLineClassifiers(t *testing.T) {
	cases := []struct {
		line    string
		confirm bool
		errLine bool
	}{
		{"Recording started on 172.20.120.51", true, false},
		{"capturing 4K preset", true, false},
		{"ERROR: shutter command timed out", false, true},
		{"Traceback (most recent call last):", false, true},
		{"keep-alive tick", false, false},
	}
	for _, c := range cases {
		if got := isConfirmLine(c.line); got != c.confirm {
			t.Errorf("isConfirmLine(%q) = %v, want %v", c.line, got, c.confirm)
		}
		if got := isErrorLine(c.line); got != c.errLine {
			t.Errorf("isErrorLine(%q) = %v, want %v", c.line, got, c.errLine)
		}
	}
}

func TestWaitConfirmSeesConfirmation(t *testing.T) {
	p, err := startRecorder(context.Background(),
		[]string{"sh", "-c", "echo recording started; sleep 5"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitConfirm(ctx); err != nil {
		t.Fatalf("WaitConfirm: %v", err)
	}
}

func TestWaitConfirmFailsOnEarlyExit(t *testing.T) {
	p, err := startRecorder(context.Background(),
		[]string{"sh", "-c", "echo starting up; exit 3"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitConfirm(ctx); err == nil {
		t.Fatal("expected error when recorder exits before confirming")
	}
}

func TestWaitConfirmFailsOnErrorMarker(t *testing.T) {
	p, err := startRecorder(context.Background(),
		[]string{"sh", "-c", "echo 'ERROR: no camera'; sleep 5"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitConfirm(ctx); err == nil {
		t.Fatal("expected error when recorder reports an error marker")
	}
}

func TestTerminateStopsProcess(t *testing.T) {
	p, err := startRecorder(context.Background(),
		[]string{"sh", "-c", "echo recording; sleep 60"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitConfirm(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		p.Terminate()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Terminate did not return")
	}
}

func TestSegmentSessionID(t *testing.T) {
	at := time.Date(2026, 1, 20, 19, 50, 30, 0, time.UTC)
	got := segmentSessionID("enxd43260ddac87", "FL", at)
	if got != "enxd43260ddac87_FL_20260120_195030" {
		t.Fatalf("id = %q", got)
	}

	got = segmentSessionID("enxd43260ddac87", "UNK", at)
	if got != "enxd43260ddac87_20260120_195030" {
		t.Fatalf("unknown-angle id = %q", got)
	}
}
