//go:build cuda

package codec

// NewEngine returns the engine matching the build's device backend.
func NewEngine() Engine {
	return NewNvcompEngine()
}
