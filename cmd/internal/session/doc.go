// Package session implements the per-connection protocol engine of vecavg.
//
// One Session drives one connection through
//
//	Connected -> Authenticating -> Authenticated -> ProcessingVectors -> Closed
//
// with direct edges to Closed on handshake rejection or any batch failure.
//
// Handshake: a single text message "<login> <salt:16 hex> <hash:64 hex>", answered with
// "OK" or "ERR". The hash is hex(H(salt ++ secret)) where H is the configured digest.
// The handshake is taken from a single read of at most 1023 bytes, so a client must wait
// for "OK" before sending the batch count. Bytes pipelined behind the handshake text are
// read as part of it and the handshake is rejected.
//
// Batch: big-endian framing. The client sends a uint32 vector count (1..100) which is
// echoed back, then for each vector a uint32 element count (0..100000) followed by that
// many int64 values; each vector is answered with one int64, the truncating average or
// math.MinInt64 when the running sum overflowed.
//
// Every exit path closes the connection exactly once.
package session
