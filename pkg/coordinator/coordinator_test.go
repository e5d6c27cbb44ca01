package coordinator

import (
    "context"
    "errors"
    "testing"
    "time"
)

func TestQuorum_ReleasesAtK(t *testing.T) {
    q := NewQuorum(2)
    done := make(chan error, 1)
    go func() {
        done <- q.Wait(context.Background(), "binlog.000001", 500)
    }()

    q.ReportReply(1, "binlog.000001", 600)
    select {
    case err := <-done:
        t.Fatalf("released at 1 ack: %v", err)
    case <-time.After(30 * time.Millisecond):
    }

    // A stale ack below the waiter position does not count.
    q.ReportReply(2, "binlog.000001", 400)
    select {
    case err := <-done:
        t.Fatalf("released by stale ack: %v", err)
    case <-time.After(30 * time.Millisecond):
    }

    q.ReportReply(2, "binlog.000001", 500)
    select {
    case err := <-done:
        if err != nil {
            t.Fatalf("wait: %v", err)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("waiter not released at quorum")
    }
}

func TestQuorum_AlreadyCovered(t *testing.T) {
    q := NewQuorum(1)
    q.ReportReply(7, "binlog.000002", 100)
    if err := q.Wait(context.Background(), "binlog.000001", 999); err != nil {
        t.Fatalf("wait on earlier file: %v", err)
    }
    if err := q.Wait(context.Background(), "binlog.000002", 100); err != nil {
        t.Fatalf("wait on exact position: %v", err)
    }
}

func TestQuorum_RegressingAckIgnored(t *testing.T) {
    q := NewQuorum(1)
    q.ReportReply(3, "binlog.000005", 100)
    q.ReportReply(3, "binlog.000004", 900)
    p, ok := q.Acked(3)
    if !ok || p.File != "binlog.000005" || p.Pos != 100 {
        t.Fatalf("acked=%+v ok=%v", p, ok)
    }
}

func TestQuorum_ContextCancel(t *testing.T) {
    q := NewQuorum(1)
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- q.Wait(ctx, "binlog.000001", 1) }()
    time.Sleep(10 * time.Millisecond)
    cancel()
    select {
    case err := <-done:
        if !errors.Is(err, context.Canceled) {
            t.Fatalf("err=%v want context.Canceled", err)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("waiter not released on cancel")
    }
}

func TestQuorum_Stop(t *testing.T) {
    q := NewQuorum(1)
    done := make(chan error, 1)
    go func() { done <- q.Wait(context.Background(), "binlog.000001", 1) }()
    time.Sleep(10 * time.Millisecond)
    q.Stop()
    select {
    case err := <-done:
        if !errors.Is(err, ErrStopped) {
            t.Fatalf("err=%v want ErrStopped", err)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("waiter not released on stop")
    }
    if err := q.Wait(context.Background(), "binlog.000001", 2); !errors.Is(err, ErrStopped) {
        t.Fatalf("wait after stop: %v", err)
    }
}
