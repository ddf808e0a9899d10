// Package cryptoutil verifies detached signatures on legacy content
// fragments with a KMS-held key and hashes fragments for identity.
//
// Signatures are checked locally against the cached KMS public key:
// ECDSA P-256/P-384 and RSA-PSS, with PKCS1v15 accepted only when enabled.
package cryptoutil
