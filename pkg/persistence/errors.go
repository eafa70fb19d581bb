package persistence

import "errors"

var (
	ErrFlowNotFound       = errors.New("flow not found")
	ErrNodeConfigNotFound = errors.New("node config not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrDuplicateFlowName  = errors.New("flow name already exists for user")
	ErrDuplicateTask      = errors.New("task already exists for flow and crontab")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrNodeConfigNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}

// IsDuplicate reports whether err is a uniqueness violation sentinel.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateFlowName) || errors.Is(err, ErrDuplicateTask)
}
