package config

// Version is injected at build time via ldflags.
//
// Build with:
//   go build -ldflags "-X 'github.com/streamfall/streamfall/internal/config.Version=x.y.z'"
var Version = "dev"
