// Package authapi is the HTTP transport for login, refresh rotation, logout
// and the password flows.
//
// Browsers carry the refresh secret in an HttpOnly cookie scoped to
// /auth/refresh and the access token in a short-lived cookie; API clients may
// send the access token as a bearer header instead. Errors use the body
// {"error":{"code":"...","message":"..."}} with stable codes.
package authapi
