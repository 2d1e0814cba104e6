// Package ledger queries transparency ledgers (Chronicle instances) and
// decides, by random sampling, whether a release's summary hash is
// corroborated by enough of them.
//
// # Response Authentication
//
// Chronicle signs every response body with its Ed25519 key and sends the
// signature in the Body-Signature-Ed25519 header. A response whose
// signature does not verify against the configured key is discarded
// before its JSON is parsed.
//
// # Quorum Sampling
//
// A Quorum with (samples, threshold) draws up to samples distinct ledgers
// using crypto/rand and stops as soon as threshold of them report the
// record. Unreachable or lagging ledgers are tolerated; they simply do not
// count. Configurations where threshold > samples or samples exceeds the
// number of ledgers never corroborate anything.
package ledger
