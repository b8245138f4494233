package types

// Version is the canonical project version.
// The CLI, the reference server and the wire contract share this version.
const Version = "0.4.0"

// ContractVersion is stamped on published completion events.
// Lockstep with Version.
const ContractVersion = Version
