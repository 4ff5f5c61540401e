// Package memory contains MemoryStore implementations and helpers for
// memory-enabled agents. The store interface resides in the core package;
// select an implementation at wiring time.
package memory
