package tiercache

import "errors"

var (
	ErrNoLocal  = errors.New("tiercache: local provider is required")
	ErrNoRemote = errors.New("tiercache: remote provider is required")
)
