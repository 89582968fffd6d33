package policy

import "errors"

var (
	// ErrPolicyDenied indicates the tool call was denied by policy.
	ErrPolicyDenied = errors.New("policy: tool call denied")

	// ErrPathIgnored indicates the target path matches an ignore pattern.
	ErrPathIgnored = errors.New("policy: path is ignored")
)

// DeniedError carries the verdict of a denied call.
type DeniedError struct {
	Tool   string
	Result Result
}

func (e *DeniedError) Error() string {
	return "policy: " + e.Tool + ": " + e.Result.Reason
}

// Is reports whether target is ErrPolicyDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPolicyDenied
}
