package models

import "time"

// Source identifies which backend runtime owns a model or handled a call.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// BackendModel is one entry of the unified model directory. Identity is the
// Name; when the same name exists on both backends the local entry wins.
type BackendModel struct {
	Name       string
	ModifiedAt time.Time
	Source     Source
}

// RunningModel describes a currently loaded model as reported by a backend.
type RunningModel struct {
	Name      string
	SizeBytes int64
	VRAMBytes int64
	ExpiresAt time.Time
	Source    Source
}
