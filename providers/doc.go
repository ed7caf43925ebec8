// Package providers holds the pieces shared by the fitness platform
// adapters: the OAuth2 client, the pull client base with its refresh,
// breaker and rate-limit plumbing, and record conversion helpers. Each
// platform lives in its own subpackage.
package providers
