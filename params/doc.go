// Package params provides the named-parameter data model shared by every
// gradsync component: parameters with optional data and gradient buffers,
// name-sorted sets, structural snapshots for change detection, and the
// zero-copy gradient swap used by double-buffered training.
package params
