package common

// AuthorizationHeaderName is the HTTP header / gRPC metadata key carrying
// the bearer session token.
const AuthorizationHeaderName = "authorization"

// SessionCookieName is the cookie holding the browser session token.
const SessionCookieName = "phidiasync_session"
