// Package cryptoutils holds the signing primitives shared by the forge
// server and its clients.
//
// Mutating API requests are authenticated with a secp256k1 signature over
// the request, in the same format wallets use for personal_sign:
//
//	digest = keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
//	msg    = method + "\n" + path + "\n" + timestamp + "\n" + body
//
// The signer's address, recovered from the signature, is the caller
// principal. Timestamps outside MaxClockSkew are rejected so captured
// requests cannot be replayed later.
package cryptoutils
