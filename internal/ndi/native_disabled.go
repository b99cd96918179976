//go:build !ndi
// +build !ndi

package ndi

import (
	"context"
)

// NativeFinder is a Finder backed by the native SDK.
type NativeFinder struct{}

// NewNativeFinder allocates a NativeFinder.
func NewNativeFinder(_ string, _ string) (*NativeFinder, error) {
	return nil, ErrSDKUnavailable
}

// Close implements Finder.
func (f *NativeFinder) Close() {
}

// Find implements Finder.
func (f *NativeFinder) Find(_ context.Context) ([]Source, error) {
	return nil, ErrSDKUnavailable
}

// NativeRouter is a Router backed by the native SDK.
type NativeRouter struct{}

// NewNativeRouter allocates a NativeRouter.
func NewNativeRouter(_ string, _ string) (*NativeRouter, error) {
	return nil, ErrSDKUnavailable
}

// Close implements Router.
func (r *NativeRouter) Close() {
}

// Route implements Router.
func (r *NativeRouter) Route(_ int, _ *Source) error {
	return ErrSDKUnavailable
}
