package gateway

import "errors"

var (
	ErrNotRunning              = errors.New("gateway not running")
	ErrNotOwner                = errors.New("gateway owned by another user")
	ErrAlreadyRunningElsewhere = errors.New("gateway already running for another user")
	ErrStartupTimeout          = errors.New("gateway did not become ready in time")
	ErrSupervisor              = errors.New("process supervisor failed")
	ErrNotInstalled            = errors.New("gateway binary not installed")
)
