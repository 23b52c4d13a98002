// Package valr is the REST client for the VALR exchange API. It covers the
// calls the settlement pipeline makes: market conversion orders, crypto
// withdrawals, and account balances.
package valr

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Auth holds the credentials for HMAC-authenticated requests against the
// VALR API.
type Auth struct {
	Key    string // API key
	Secret string // API secret
}

// Headers returns the HTTP headers for an authenticated VALR request.
// The signature is HMAC-SHA512(secret, timestamp+METHOD+path+body) encoded
// as lowercase hex, with the timestamp in Unix milliseconds.
//
// Returned header keys:
//   - X-VALR-API-KEY
//   - X-VALR-SIGNATURE
//   - X-VALR-TIMESTAMP
func (a *Auth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (a *Auth) HeadersAt(method, path, body string, unixMilli int64) map[string]string {
	ts := strconv.FormatInt(unixMilli, 10)

	message := ts + method + path + body
	sig := hmacSHA512Hex([]byte(a.Secret), message)

	return map[string]string{
		"X-VALR-API-KEY":   a.Key,
		"X-VALR-SIGNATURE": sig,
		"X-VALR-TIMESTAMP": ts,
	}
}

// hmacSHA512Hex computes HMAC-SHA512 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA512Hex(key []byte, message string) string {
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a *Auth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Auth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
