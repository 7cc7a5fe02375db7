package audio

import (
	"context"
)

// Authorizer confirms the process may capture from the microphone.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context) error

func (f AuthorizerFunc) Authorize(ctx context.Context) error {
	return f(ctx)
}

// AllowAll grants access unconditionally.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context) error { return nil })

// DefaultDeviceNodes matches the ALSA capture nodes checked by DeviceNodeAuthorizer.
var DefaultDeviceNodes = []string{"/dev/snd/pcmC*D*c"}

// DeviceNodeAuthorizer grants access when every device node matching Paths
// is readable and writable by the current user. Paths are glob patterns;
// patterns with no match are skipped.
type DeviceNodeAuthorizer struct {
	Paths []string
}

// NewDeviceNodeAuthorizer checks paths, or DefaultDeviceNodes when none are given.
func NewDeviceNodeAuthorizer(paths ...string) *DeviceNodeAuthorizer {
	if len(paths) == 0 {
		paths = DefaultDeviceNodes
	}
	return &DeviceNodeAuthorizer{Paths: paths}
}
