package version

// Version of the link-weaver program
const Version = "0.3.0"
