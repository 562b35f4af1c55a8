package version

// Version is overridden at build time with -ldflags "-X ktax/internal/version.Version=...".
var Version = "dev"
