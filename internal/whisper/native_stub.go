//go:build !whispercpp

package whisper

import "go.uber.org/zap"

// NativeAvailable reports whether this build links whisper.cpp.
const NativeAvailable = false

func NewNativeEngine(string, NativeOptions, *zap.Logger) (Engine, error) {
	return nil, ErrNativeUnavailable
}
