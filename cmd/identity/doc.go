// Package identity holds warden's principal model and its persistence.
//
// It owns the account-status state machine (CheckStatus), the failed-login
// lockout policy, and the Store boundary used by the login flow, the refresh
// rotation engine and the anonymization sweep.
package identity
