// Package linecaptcha contains global configuration for the line-tracing
// challenge server.
package linecaptcha

import "time"

// Version is the current version of the server.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// BasePrefix is a global prefix for all HTTP routes, e.g. /myapp. It is set
// by the server at construction time.
var BasePrefix = ""

// APIPrefix is the path prefix of the challenge API.
const APIPrefix = "/captcha/line/"

// DefaultTTL is the default lifetime of an issued challenge.
const DefaultTTL = 12 * time.Second

// DefaultCanvasSize is the default width and height of the drawing surface
// in CSS pixels.
const DefaultCanvasSize = 400

// PointerType names a pointer profile declared by the client.
type PointerType string

const (
	PointerMouse PointerType = "mouse"
	PointerTouch PointerType = "touch"
	PointerPen   PointerType = "pen"
)

// Valid reports whether the pointer type is one the server understands.
func (p PointerType) Valid() bool {
	switch p {
	case PointerMouse, PointerTouch, PointerPen:
		return true
	default:
		return false
	}
}

// Profile maps a declared pointer type onto the tolerance profile used to
// score it. Pens are scored like touch input.
func (p PointerType) Profile() PointerType {
	if p == PointerMouse {
		return PointerMouse
	}
	return PointerTouch
}
