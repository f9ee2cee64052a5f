package version

// Name is the program name reported in logs and the Server header.
const Name = "resizeblur"

// Build metadata injected via -ldflags:
//   -X resizeblur/internal/version.BuildNumber=42 -X resizeblur/internal/version.GitCommit=abc123
var (
    BuildNumber = "0"
    GitCommit   = "unknown"
)

// String returns "build N" with the commit appended when known.
func String() string {
    if GitCommit == "unknown" || GitCommit == "" {
        return "build " + BuildNumber
    }
    return "build " + BuildNumber + " (" + GitCommit + ")"
}

// UserAgent returns "resizeblur/N" for HTTP headers.
func UserAgent() string {
    return Name + "/" + BuildNumber
}
