package middlewares

const (
	CtxRequestID = "request_id"
	ctxUserIDKey = "auth.userID"
)
