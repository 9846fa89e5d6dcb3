package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrLockNotHeld    = errors.New("lock not held")
)

// ConfigError is fatal: the invocation aborts before any fetch.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

type SkipReason string

const (
	SkipMissingID     SkipReason = "missing_id"
	SkipNoParentLink  SkipReason = "no_parent_link"
	SkipUnknownParent SkipReason = "unknown_parent"
	SkipNoName        SkipReason = "no_name"
	SkipNoAttachments SkipReason = "no_attachments"
	SkipInvalidField  SkipReason = "invalid_field"
	SkipDuplicate     SkipReason = "duplicate_key"
)

// SkipError is the normalizer's typed rejection of one raw record.
type SkipError struct {
	Kind       Kind
	ExternalID string
	Reason     SkipReason
	Detail     string
}

func (e *SkipError) Error() string {
	s := fmt.Sprintf("skip %s %s: %s", e.Kind, e.ExternalID, e.Reason)
	if e.Detail != "" {
		s += " (" + e.Detail + ")"
	}
	return s
}

func Skip(k Kind, id string, r SkipReason, detail string) *SkipError {
	return &SkipError{Kind: k, ExternalID: id, Reason: r, Detail: detail}
}
