// Package transcript records the public artifacts of completed pairing handshakes.
//
// A [Transcript] holds everything a Peer sent and received in the clear: both identity
// credentials, both key-exchange public keys, and the IV and cipher text of each encrypted
// message. It never holds the session key or any decrypted plaintext, so a Transcript can be
// shared for debugging without exposing the session.
//
// A [Journal] keeps the most recent Transcript for each peer, identified by a fingerprint of the
// peer's signing key. Journals are serialized in protobuf wire format and can be saved to disk with
// [Journal.ExportToFile].
package transcript
