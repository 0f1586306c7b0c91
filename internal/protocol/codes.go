package protocol

// Application close / error codes. Codes 4000-4003 are fatal and only
// used before a connection is accepted; the rest travel in non-fatal
// error frames. 4004 appears in both roles.
const (
	CodeInternalError       = 4000
	CodeInvalidToken        = 4001
	CodeTokenExpired        = 4002
	CodeAccessDenied        = 4003
	CodeRateLimited         = 4004
	CodeInvalidMessage      = 4005
	CodeUnknownMessageType  = 4006
	CodeStreamAlreadyActive = 4007
	CodeStreamNotFound      = 4008
	CodeInvalidParameter    = 4009
)
