// Package internal holds the storage primitives of the htab engine:
// word-granular atomic buffers for keys and values and the sequence lock
// that lets lock-free readers detect a concurrent rewrite of a buffer.
//
// The engine never hands these buffers to callers. Keys and values are
// always copied in with Store and copied out with Load.
package internal
