package poller

import (
    "os"
    "testing"
    "time"
)

func TestWait_Timeout(t *testing.T) {
    p, err := New()
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer p.Close()

    start := time.Now()
    ready, woken, err := p.Wait(nil, 30*time.Millisecond)
    if err != nil {
        t.Fatalf("wait: %v", err)
    }
    if len(ready) != 0 || woken {
        t.Fatalf("expected timeout, got ready=%v woken=%v", ready, woken)
    }
    if time.Since(start) < 20*time.Millisecond {
        t.Fatalf("returned too early: %v", time.Since(start))
    }
}

func TestWait_WakeBeforeWait(t *testing.T) {
    p, err := New()
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer p.Close()

    if err := p.Wake(); err != nil {
        t.Fatalf("wake: %v", err)
    }
    // Signalled before Wait begins: must return immediately.
    _, woken, err := p.Wait(nil, 5*time.Second)
    if err != nil {
        t.Fatalf("wait: %v", err)
    }
    if !woken {
        t.Fatalf("expected woken")
    }
    // The wakeup was drained; the next wait times out.
    _, woken, err = p.Wait(nil, 20*time.Millisecond)
    if err != nil || woken {
        t.Fatalf("expected timeout after drain, woken=%v err=%v", woken, err)
    }
}

func TestWait_WakeDuringWait(t *testing.T) {
    p, err := New()
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer p.Close()

    go func() {
        time.Sleep(20 * time.Millisecond)
        _ = p.Wake()
    }()
    start := time.Now()
    _, woken, err := p.Wait(nil, 5*time.Second)
    if err != nil {
        t.Fatalf("wait: %v", err)
    }
    if !woken {
        t.Fatalf("expected woken")
    }
    if time.Since(start) > time.Second {
        t.Fatalf("wakeup not prompt: %v", time.Since(start))
    }
}

func TestWait_ReadyFd(t *testing.T) {
    p, err := New()
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer p.Close()

    r1, w1, _ := os.Pipe()
    r2, w2, _ := os.Pipe()
    defer func() { r1.Close(); w1.Close(); r2.Close(); w2.Close() }()

    if _, err := w2.Write([]byte{1}); err != nil {
        t.Fatalf("write: %v", err)
    }
    ready, woken, err := p.Wait([]int{int(r1.Fd()), int(r2.Fd())}, 2*time.Second)
    if err != nil {
        t.Fatalf("wait: %v", err)
    }
    if woken {
        t.Fatalf("unexpected wakeup")
    }
    if len(ready) != 1 || ready[0] != 1 {
        t.Fatalf("ready=%v want [1]", ready)
    }
}

func TestWait_PeerCloseIsReady(t *testing.T) {
    p, err := New()
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    defer p.Close()

    r, w, _ := os.Pipe()
    defer r.Close()
    _ = w.Close()

    ready, _, err := p.Wait([]int{int(r.Fd())}, 2*time.Second)
    if err != nil {
        t.Fatalf("wait: %v", err)
    }
    if len(ready) != 1 {
        t.Fatalf("hangup not reported ready: %v", ready)
    }
}
