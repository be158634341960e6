// Package memory implements the in-memory storage devices of memdev.
//
// A Table owns a fixed number of Devices created at startup. Each Device
// owns one growable Buffer and a lock, and is accessed through Handles that
// carry their own cursor.
//
// Growth and Bounds:
//
//   - Buffers grow only on seek, to the next page boundary past the target.
//   - Reads past the end are clamped; writes past the end are rejected whole.
//   - A reset device reads as empty until the next successful write.
//
// Thread Safety:
//
// Every handle operation holds its device lock for its full duration. The
// lock wait honours context cancellation. Table construction and Close are
// not safe to run alongside device operations.
package memory
