package threadsvc

import "testing"

func TestAttachDetach(t *testing.T) {
    s := OS()
    if s.IsAttached() {
        t.Fatalf("fresh service reports attached")
    }
    if rc := s.Attach(); rc != 0 {
        t.Fatalf("attach rc=%d", rc)
    }
    if !s.IsAttached() {
        t.Fatalf("not attached after Attach")
    }
    // Double attach is an error (non-zero) and leaves the state attached.
    if rc := s.Attach(); rc == 0 {
        t.Fatalf("second attach succeeded")
    }
    if rc := s.Detach(); rc != 0 {
        t.Fatalf("detach rc=%d", rc)
    }
    if s.IsAttached() {
        t.Fatalf("still attached after Detach")
    }
    if rc := s.Detach(); rc == 0 {
        t.Fatalf("second detach succeeded")
    }
}
