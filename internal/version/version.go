package version

// Version is the current build version, overridable at build time:
//   go build -ldflags="-X 'github.com/emirgocuk/quickshare/internal/version.Version=v1.0.0'"
var Version = "dev"
