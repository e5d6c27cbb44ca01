package bootstrap

import (
    "testing"
    "time"
)

func TestFromEnv_Defaults(t *testing.T) {
    cfg, err := FromEnv()
    if err != nil {
        t.Fatalf("parse: %v", err)
    }
    if !cfg.Enabled {
        t.Fatalf("enabled default false")
    }
    if cfg.PollTimeout != time.Second {
        t.Fatalf("poll timeout %s", cfg.PollTimeout)
    }
    if cfg.Quorum != 1 {
        t.Fatalf("quorum %d", cfg.Quorum)
    }
    if cfg.DumpBind != ":13307" || cfg.MgmtAddr != ":17932" || cfg.MgmtProto != "http" {
        t.Fatalf("addresses: %q %q %q", cfg.DumpBind, cfg.MgmtAddr, cfg.MgmtProto)
    }
}

func TestFromEnv_Overrides(t *testing.T) {
    t.Setenv("SEMISYNC_ENABLED", "false")
    t.Setenv("SEMISYNC_POLL_TIMEOUT", "250ms")
    t.Setenv("SEMISYNC_TRACE_LEVEL", "5")
    t.Setenv("SEMISYNC_QUORUM", "3")
    t.Setenv("SEMISYNC_MGMT_PROTO", "grpc")
    t.Setenv("SEMISYNC_TIMESTAMP_MODE", "utc")

    cfg, err := FromEnv()
    if err != nil {
        t.Fatalf("parse: %v", err)
    }
    if cfg.Enabled {
        t.Fatalf("enabled not overridden")
    }
    if cfg.PollTimeout != 250*time.Millisecond {
        t.Fatalf("poll timeout %s", cfg.PollTimeout)
    }
    if cfg.TraceLevel != 5 || cfg.Quorum != 3 || cfg.MgmtProto != "grpc" || cfg.TimestampMode != "utc" {
        t.Fatalf("overrides: %+v", cfg)
    }
}

func TestBuild_RejectsBadTimestampMode(t *testing.T) {
    cfg, err := FromEnv()
    if err != nil {
        t.Fatalf("parse: %v", err)
    }
    cfg.TimestampMode = "martian"
    if _, err := Build(cfg); err == nil {
        t.Fatalf("bad timestamp mode accepted")
    }
}

func TestBuild_WiresQuorumCoordinator(t *testing.T) {
    cfg, err := FromEnv()
    if err != nil {
        t.Fatalf("parse: %v", err)
    }
    cfg.Quorum = 2
    d, err := Build(cfg)
    if err != nil {
        t.Fatalf("build: %v", err)
    }
    if d.Quorum == nil {
        t.Fatalf("no quorum coordinator built")
    }
    if d.Receiver == nil || d.Acceptor == nil || d.Mgmt == nil {
        t.Fatalf("incomplete daemon: %+v", d)
    }
}
