package logging

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Error logs err's message under "error". zap.Error would also emit
// errorVerbose, which for cockroachdb errors is a full stack trace.
func Error(err error) zap.Field {
	return NamedError("error", err)
}

// NamedError is Error under key. A nil err adds nothing.
func NamedError(key string, err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String(key, err.Error())
}

// Hint logs the operator hints attached to err with errors.WithHint.
func Hint(err error) zap.Field {
	hint := errors.FlattenHints(err)
	if hint == "" {
		return zap.Skip()
	}
	return zap.String("hint", hint)
}
