package buildinfo

// Set via -ldflags at build time:
//
//	-X 'github.com/m3rciful/inboxbot/core/buildinfo.Version=v1.2.3'
//	-X 'github.com/m3rciful/inboxbot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/inboxbot/core/buildinfo.Date=2026-10-18T12:00:00Z'
var (
	Version = "dev"
	Commit  = "local"
	Date    = ""
)
