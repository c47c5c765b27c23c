package results

import (
	"fmt"
	"strings"
)

// Error tags a failure of one step of an analysis with a Reason. The analyze command logs
// the reason chain of a failed run next to the message, so that an interrupted listing of
// a bucket reads differently from a payload that could not be loaded:
//
//	if err := enumerator.ListArtifacts(ctx); err != nil {
//	    return results.ForReason(results.ReasonEnumeration).WithError(err).Errorf("could not list artifacts below %s", root)
//	}
type Error struct {
	reason  Reason
	message string
	wrapped error
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is matches any reason tagged error, errors.Is(err, &Error{}) tells whether a step tagged err.
func (e *Error) Is(target error) bool {
	_, is := target.(*Error)
	return is
}

// Reasons lists one colon separated chain per failed step, outermost step first. A step
// wrapping several failures, e.g. an aggregate of flag errors, yields one chain per failure.
func Reasons(errs ...error) (ret []string) {
	for _, err := range errs {
		switch err := err.(type) {
		case *Error:
			children := Reasons(err.Unwrap())
			if len(children) == 0 {
				ret = append(ret, string(err.reason))
				break
			}
			for _, r := range children {
				ret = append(ret, fmt.Sprintf("%s:%s", err.reason, r))
			}
		case interface{ Errors() []error }:
			ret = append(ret, Reasons(err.Errors()...)...)
		case interface{ Unwrap() error }:
			ret = append(ret, Reasons(err.Unwrap())...)
		}
	}
	return
}

// FullReason is the value of the reason field logged for a failed run. Errors no step
// tagged report ReasonUnknown.
func FullReason(err error) string {
	reasons := Reasons(err)
	if len(reasons) == 0 {
		return string(ReasonUnknown)
	}
	return strings.Join(reasons, ",")
}

type BuilderWithReason struct {
	Error
}

// ForReason starts tagging the failure of a step. Finish with WithError(...).Errorf(...)
// to add context, or with ForError to keep the message of the failure.
func ForReason(reason Reason) *BuilderWithReason {
	if reason == "" {
		// an empty reason would read like a missing log field
		reason = ReasonUnknown
	}
	return &BuilderWithReason{
		Error: Error{
			reason: reason,
		},
	}
}

type BuilderWithReasonAndError struct {
	Error
}

func (e *BuilderWithReason) WithError(err error) *BuilderWithReasonAndError {
	b := &BuilderWithReasonAndError{
		Error: e.Error,
	}
	b.wrapped = err
	return b
}

func (e *BuilderWithReasonAndError) Errorf(format string, args ...interface{}) error {
	e.message = fmt.Sprintf(format, args...)
	return &e.Error
}

// ForError tags err as is. A nil err stays nil, so the result of a step can be passed
// through directly:
//
//	return results.ForReason(results.ReasonAnalysis).ForError(analyzer.AnalyzeRuns(ctx, runs, sink))
func (e *BuilderWithReason) ForError(err error) error {
	if err == nil {
		return nil
	}
	e.wrapped = err
	e.message = err.Error()
	return &e.Error
}
