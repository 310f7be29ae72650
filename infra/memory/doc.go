// Package memory provides typed object pools used on the hot encode paths
// (event codec, event-log framing) to reuse scratch buffers.
package memory
