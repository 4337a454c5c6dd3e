//go:build !whispercpp

package whispercpp

import "github.com/xkeyC/fl-caption/pkg/asr"

// Available reports whether the native engine is compiled in.
func Available() bool { return false }

func newNative(string, asr.Options) (engine, error) {
	return nil, ErrNativeUnavailable
}
