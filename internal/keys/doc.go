// Package keys manages the asymmetric key material behind a message box.
//
// Two interchangeable schemes are supported. RSA key pairs are generated
// locally and persisted to disk, optionally sealed under a passphrase.
// ECIES key pairs are derived deterministically from an externally supplied
// secp256k1 secret (typically the account's signing key) and are never
// persisted, since the same secret always re-derives the same pair.
//
// The public half of either scheme is published to the message box topic as
// a PUBLIC_KEY record, the first and only self-describing entry of the
// topic's log.
package keys
