// Package playready implements the PlayReady-style key system: BCert
// certificate chains, PRD device files, XMR licenses and the SOAP
// AcquireLicense exchange.
//
// # Overview
//
// A Device holds three P-256 key pairs (group, encryption, signing) and a
// certificate chain whose leaf names the signing and encryption keys. The
// chain is verified leaf-ward from a pinned root issuer key.
//
// # Flows
//
// Request:
//  1. Parse the PSSH (box, header object, record or bare UTF-16 header).
//  2. Generate a one-time P-256 key; its x coordinate is the AES IV and key.
//  3. ElGamal-encrypt that key point to the WMRM server key.
//  4. AES-CBC encrypt the certificate chain.
//  5. Hash the LA element, sign SignedInfo with the device signing key.
//
// Response:
//  1. Check for a SOAP fault.
//  2. Decode each XMR license and ElGamal-decrypt its content keys.
//  3. Verify the license CMAC with the integrity key before accepting keys.
//
// # Errors
//
// Malformed binary or XML input wraps domain.ErrMalformedInput. Chain
// failures wrap domain.ErrInvalidCertificateChain and carry a
// *domain.CertificateError naming the offending index. A failed CMAC is
// domain.ErrInvalidLicense. Server faults are returned as *ServerError.
package playready
