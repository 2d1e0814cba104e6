// Package keyring holds the public keys trusted to sign releases and
// verifies release signatures against them.
//
// # Key Identifiers
//
// Every key is addressed by a KeyID: the BLAKE2b-256 digest of the key's
// canonical encoding ("<alg>:" followed by the raw key bytes), encoded as
// unpadded base64url. Release metadata names the id of the signing key and
// only that key is consulted. Ids are matched with a constant-time
// comparison.
//
// # Signature Schemes
//
//   - ed25519: signature over the BLAKE2b-512 digest of the content
//   - dilithium3: post-quantum signature over the same digest
//   - openpgp: detached signature made by the entity's primary key
//
// Hashing first lets large artifacts be verified as a stream.
//
// # Usage
//
//	v := keyring.NewVerifier(logger)
//	if _, err := v.AddPublicKey("ed25519:..."); err != nil {
//	    return err
//	}
//	ok := v.VerifyFile(keyID, signature, "/tmp/valence-123.zip")
package keyring
