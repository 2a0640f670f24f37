package response

// Response is the JSON envelope returned by every API route
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
}

// ErrorData describes a failed request
type ErrorData struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Success wraps data in a successful envelope
func Success(data interface{}) Response {
	return Response{Success: true, Data: data}
}

// Error builds an error envelope
func Error(code, message string) Response {
	return Response{
		Success: false,
		Error:   &ErrorData{Code: code, Message: message},
	}
}

// ErrorWithDetails builds an error envelope carrying structured details
func ErrorWithDetails(code, message string, details interface{}) Response {
	return Response{
		Success: false,
		Error:   &ErrorData{Code: code, Message: message, Details: details},
	}
}

func BadRequest(message string) Response {
	return Error("BAD_REQUEST", message)
}

func Unauthorized(message string) Response {
	return Error("UNAUTHORIZED", message)
}

func Forbidden(code, message string) Response {
	return Error(code, message)
}

func NotFound(message string) Response {
	return Error("NOT_FOUND", message)
}

func Conflict(code, message string) Response {
	return Error(code, message)
}

// ValidationError reports the first offending field
func ValidationError(field, message string) Response {
	return ErrorWithDetails("VALIDATION_ERROR", message, map[string]string{"field": field})
}

func TooManyRequests(message string) Response {
	return Error("TOO_MANY_REQUESTS", message)
}

// InternalError hides the cause from clients; log it before calling
func InternalError() Response {
	return Error("INTERNAL_ERROR", "Internal server error")
}
