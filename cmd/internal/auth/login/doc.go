// Package login implements password authentication and the account flows
// around it: password change, self-service reset and account deletion.
//
// Unknown identifiers and wrong passwords are indistinguishable to callers.
// Account status is consulted only after the password matched, so a locked
// account answers account_locked to the right password and
// invalid_credentials to a wrong one.
package login
