package core

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Kind classifies a failure so callers can decide how to degrade.
type Kind string

const (
	KindNone        Kind = ""
	KindTransient   Kind = "transient"
	KindTimeout     Kind = "timeout"
	KindUnsupported Kind = "unsupported"
	KindConfig      Kind = "config"
)

var (
	// TagTransient marks network or backend failures that may succeed on retry.
	TagTransient = goerr.NewTag("transient")
	// TagTimeout marks operations that exceeded their deadline.
	TagTimeout = goerr.NewTag("timeout")
	// TagUnsupported marks inputs whose type cannot be processed.
	TagUnsupported = goerr.NewTag("unsupported")
	// TagConfig marks missing or invalid configuration.
	TagConfig = goerr.NewTag("config")
)

// KindOf derives the failure kind of err. Context deadline errors are always
// KindTimeout even when untagged.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case goerr.HasTag(err, TagTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case goerr.HasTag(err, TagUnsupported):
		return KindUnsupported
	case goerr.HasTag(err, TagConfig):
		return KindConfig
	default:
		return KindTransient
	}
}
