package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means a required remote endpoint is absent from configuration.
	// The affected tick is skipped; the process keeps running.
	ErrNotConfigured = errors.New("not configured")

	// ErrDisabled means the feature is switched off in configuration
	ErrDisabled = errors.New("disabled")

	// ErrNoPlayersOnline short-circuits a poll cycle when nobody is connected
	ErrNoPlayersOnline = errors.New("no players online")

	// ErrTransferFailed wraps any failure to fetch the remote log
	ErrTransferFailed = errors.New("log transfer failed")
)

// TransportError is a network, SSH, RCON or HTTP failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is a malformed document received from a remote service
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Stage names one individually failable step of a deploy pass
type Stage string

const (
	StageInspect  Stage = "inspect"
	StageManifest Stage = "manifest"
	StageCompare  Stage = "compare"
	StageDownload Stage = "download"
	StageStop     Stage = "stop"
	StageUpload   Stage = "upload"
	StageStart    Stage = "start"
	StageRecord   Stage = "record"
)

// StageError tags a deploy failure with the stage that produced it
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("deploy stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err carries a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
