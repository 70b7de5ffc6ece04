package host

import "github.com/vinegar97/sonic3air/source"

// FileSystem is an alias of source.FileSystem, re-exported here so host
// registration code has one import for every embedding seam.
type FileSystem = source.FileSystem

// OS is the default, real-filesystem-backed FileSystem.
var OS = source.OS
