package app

// Version is set at build time with -ldflags "-X github.com/utafrali/gally-search/internal/app.Version=...".
var Version = "dev"
