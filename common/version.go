package common

// PackageName identifies this module in logs and diagnostics.
const PackageName = "secure-rpc-broker"

// Version is set at build time via -ldflags.
var Version = "dev"
