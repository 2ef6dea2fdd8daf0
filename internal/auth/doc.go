// Package auth verifies the bearer tokens chat channels attach to webhook
// requests.
//
// Tokens are HS256 JWTs signed with a shared secret. Verify requires "exp"
// and "iss", checks "aud" against the bot's app id when one is configured,
// and exposes the optional "serviceurl" claim so the webhook can reject an
// activity whose serviceUrl differs from the one the token was issued for.
//
// RequireBearer wraps an http.Handler; handlers read the verified claims
// with FromContext.
package auth
