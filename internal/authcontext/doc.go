// Package authcontext ties login, token caching and silent renewal together
// behind a single Context.
//
// Interactive logins navigate the user to the authorize endpoint. Tokens for
// other resources are read from the cache or renewed silently over a
// background channel; the redirect carrying the token is routed back through
// HandleCallback, which validates its state before anything is cached.
package authcontext
