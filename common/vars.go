package common

// Version is set at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

// PackageName namespaces the Prometheus metrics.
const PackageName = "skrecovery"
