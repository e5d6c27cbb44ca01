package ackreceiver

import "errors"

var (
    ErrNotRunning     = errors.New("semisync: receiver not running")
    ErrAlreadyRunning = errors.New("semisync: receiver already running")
    ErrAfterStop      = errors.New("semisync: receiver cannot restart after stop")
    ErrDuplicate      = errors.New("semisync: replica thread already attached")
    ErrAbsent         = errors.New("semisync: replica thread not attached")
    ErrNilSession     = errors.New("semisync: nil session or transport")
)
