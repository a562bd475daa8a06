// Package crypto exposes the primitives the two license protocols are built on.
//
// Contents
//
//   - AES-128 CBC with PKCS#7 padding and single-block ECB permutation
//     (EncryptCBC, DecryptCBC, EncryptECB)
//   - AES-CMAC and HMAC-SHA256 (CMAC, HMACSHA256, SHA256)
//   - RSA-OAEP-SHA1 and RSA-PSS-SHA1 with PKCS#1/PKCS#8/PKIX key import
//     (EncryptOAEP, DecryptOAEP, SignPSS, VerifyPSS, ParseRSAPrivateKey,
//     ParseRSAPublicKey)
//   - P-256 keys with raw r||s ECDSA over SHA-256 (EccKey, VerifyECDSA)
//   - P-256 ElGamal over raw curve points (ElGamalEncrypt, ElGamalDecrypt)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Every function is stateless. Key import rejects malformed material with
// ErrInvalidKey instead of returning a half-usable key. ECB is only exposed as
// a keyed permutation over whole blocks; there is no padding variant.
package crypto
