package rpc

import (
	"fmt"

	"avrorpc/rpcerr"
	"avrorpc/schema"
)

// ApplicationError carries a decoded error union value (any branch,
// including the string one) through verbatim, for Clients running in
// strict mode (§8 property 9:
// "strict mode surfaces the declared error value as-is; non-strict
// mode coerces everything to a string-based error").
type ApplicationError struct {
	Value interface{}
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error: %v", e.Value)
}

// coerceError turns a decoded WrappedResponse.Error union value into a
// Go error. The union's branch 0 is always the system string error
// (§3 invariant); any other branch is a message-declared error type.
// In strict mode the decoded value, whichever branch it came from, is
// returned wrapped in ApplicationError so a caller can type-assert on
// it; in non-strict mode every branch is flattened to a string-based
// rpcerr.ApplicationError, matching callers that only ever want to log
// or display it.
func coerceError(raw interface{}, strict bool) error {
	uv, ok := raw.(schema.UnionValue)
	if !ok {
		if s, ok := raw.(string); ok {
			return rpcerr.New(rpcerr.ApplicationError, "%s", s)
		}
		return &ApplicationError{Value: raw}
	}
	if uv.Index == 0 && !strict {
		s, _ := uv.Value.(string)
		return rpcerr.New(rpcerr.ApplicationError, "%s", s)
	}
	if !strict {
		return rpcerr.New(rpcerr.ApplicationError, "%v", uv.Value)
	}
	return &ApplicationError{Value: uv.Value}
}
