// ABOUTME: Build identity constants shared by the binaries
// ABOUTME: Version is overridable at link time via -ldflags
package version

var (
	Version      = "0.1.0"
	Product      = "AudioBridge"
	Manufacturer = "AudioBridge Protocol"
)
