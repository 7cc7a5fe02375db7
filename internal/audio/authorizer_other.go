//go:build !unix

package audio

import "context"

// Authorize defers to the operating system's own microphone consent prompt.
func (a *DeviceNodeAuthorizer) Authorize(ctx context.Context) error {
	return ctx.Err()
}
