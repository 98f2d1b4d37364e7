package version

// Version is set at build time.
var Version string = "0.0.0"
