// Package widevine implements the Widevine-style key system: WVD device
// files, hand-rolled protobuf license messages, PSSH parsing and the
// request/response key derivation.
//
// # Flows
//
// Request:
//  1. Parse the PSSH and wrap its payload in a LicenseRequest, with the
//     session id as request id.
//  2. Attach the client id, encrypted to the service certificate when one
//     is installed.
//  3. Sign with RSA-PSS-SHA1 and record the ENCRYPTION/AUTHENTICATION
//     derivation inputs under the request id.
//
// Response:
//  1. Look up the derivation inputs by the license's request id.
//  2. RSA-OAEP decrypt the session key and derive the sub-keys with
//     AES-CMAC.
//  3. Compare the HMAC-SHA256 signature in constant time.
//  4. AES-CBC decrypt each key container with its own IV.
//
// In privacy mode the first request is a service certificate request and
// the license request is issued from Update once the certificate arrives.
package widevine
