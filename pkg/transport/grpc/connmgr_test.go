package grpc

import (
    "context"
    "testing"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials/insecure"
)

// lazyDialer creates client connections without connecting; grpc.NewClient
// defers the actual dial until the first RPC, which these tests never issue.
func lazyDialer(dials *int) func(ctx context.Context, target string) (*grpc.ClientConn, error) {
    return func(ctx context.Context, target string) (*grpc.ClientConn, error) {
        *dials++
        return grpc.NewClient("passthrough:///"+target, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
}

func TestConnManager_ReusesCachedConn(t *testing.T) {
    dials := 0
    m := NewConnManager(time.Minute, lazyDialer(&dials))
    defer m.Close()

    cc1, rel1, err := m.Get(context.Background(), "127.0.0.1:19001")
    if err != nil {
        t.Fatalf("get: %v", err)
    }
    cc2, rel2, err := m.Get(context.Background(), "127.0.0.1:19001")
    if err != nil {
        t.Fatalf("second get: %v", err)
    }
    if cc1 != cc2 {
        t.Fatalf("connection not reused")
    }
    if dials != 1 {
        t.Fatalf("%d dials for one target", dials)
    }
    rel1()
    rel2()

    if _, rel3, err := m.Get(context.Background(), "127.0.0.1:19002"); err != nil {
        t.Fatalf("get second target: %v", err)
    } else {
        rel3()
    }
    if dials != 2 || m.Len() != 2 {
        t.Fatalf("dials=%d cached=%d after two targets", dials, m.Len())
    }
}

func TestConnManager_EvictsIdleConn(t *testing.T) {
    dials := 0
    m := NewConnManager(50*time.Millisecond, lazyDialer(&dials))
    defer m.Close()

    _, rel, err := m.Get(context.Background(), "127.0.0.1:19003")
    if err != nil {
        t.Fatalf("get: %v", err)
    }
    rel()

    deadline := time.Now().Add(2 * time.Second)
    for m.Len() != 0 {
        if time.Now().After(deadline) {
            t.Fatalf("idle connection never evicted")
        }
        time.Sleep(10 * time.Millisecond)
    }

    // a fresh Get after eviction dials again
    if _, rel2, err := m.Get(context.Background(), "127.0.0.1:19003"); err != nil {
        t.Fatalf("get after eviction: %v", err)
    } else {
        rel2()
    }
    if dials != 2 {
        t.Fatalf("%d dials, want redial after eviction", dials)
    }
}

func TestConnManager_HeldConnSurvivesJanitor(t *testing.T) {
    dials := 0
    m := NewConnManager(50*time.Millisecond, lazyDialer(&dials))
    defer m.Close()

    cc, rel, err := m.Get(context.Background(), "127.0.0.1:19004")
    if err != nil {
        t.Fatalf("get: %v", err)
    }
    defer rel()

    // well past the TTL; a referenced connection must not be evicted
    time.Sleep(150 * time.Millisecond)
    if m.Len() != 1 {
        t.Fatalf("held connection evicted")
    }
    cc2, rel2, err := m.Get(context.Background(), "127.0.0.1:19004")
    if err != nil {
        t.Fatalf("second get: %v", err)
    }
    defer rel2()
    if cc2 != cc || dials != 1 {
        t.Fatalf("held connection not reused (dials=%d)", dials)
    }
}
