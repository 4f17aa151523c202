package constants

const (
	// Version is the current version of the extraction service
	Version = "1.2.0"

	// ServiceName is reported by the health check and the CLI
	ServiceName = "extrator"
)

var (
	// Branch is the compiled branch
	Branch string

	// Revision is the compiled revision
	Revision string

	// LatestCommitMessage is the latest commit message
	LatestCommitMessage string

	// BuildTime is the compiled build time
	BuildTime string

	// Compiler is the compiler used during build
	Compiler string
)
