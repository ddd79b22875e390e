// Package vapid implements the application-server side of RFC 8292:
// P-256 key import, ES256 JWT signing with DER to JOSE signature conversion,
// and audience derivation from push endpoints.
//
// Nothing here does I/O. A SigningKey is read-only after import and safe for
// concurrent use by any number of signers.
package vapid
