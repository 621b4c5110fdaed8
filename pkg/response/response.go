package response

type APIResponseCode int

const (
	APIResponseCodeOK                 APIResponseCode = 0
	APIResponseCodeBadRequest         APIResponseCode = 40000
	APIResponseCodeVerificationFailed APIResponseCode = 40001
	APIResponseCodeInvariantViolation APIResponseCode = 40002
	APIResponseCodeNotFound           APIResponseCode = 40400
	APIResponseCodeConflict           APIResponseCode = 40900
	APIResponseCodePayloadTooLarge    APIResponseCode = 41300
	APIResponseCodeError              APIResponseCode = 50000
	APIResponseCodeUpstreamError      APIResponseCode = 50200
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:                 "ok",
	APIResponseCodeBadRequest:         "bad request",
	APIResponseCodeVerificationFailed: "signature verification failed",
	APIResponseCodeInvariantViolation: "request violates a billing invariant",
	APIResponseCodeNotFound:           "not found",
	APIResponseCodeConflict:           "conflict",
	APIResponseCodePayloadTooLarge:    "payload too large",
	APIResponseCodeError:              "unexpected error",
	APIResponseCodeUpstreamError:      "billing provider error",
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with the default message for code.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Data: data}
}

// ErrorMsg returns an error response carrying a caller-supplied message.
func ErrorMsg(code APIResponseCode, msg string) *APIResponse[any] {
	if msg == "" {
		msg = codeToMsg[code]
	}
	return &APIResponse[any]{Code: code, Message: msg}
}
