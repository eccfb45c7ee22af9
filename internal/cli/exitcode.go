package cli

import (
	"context"
	"errors"

	"mediafetch/internal/model"
)

const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitManifest    = 3
	ExitNoRendition = 4
	ExitIncomplete  = 5
	ExitMux         = 6
	ExitInterrupted = 130
)

// ExitCode maps an error returned by Run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		usage      *usageError
		format     *model.ManifestFormatError
		empty      *model.ManifestEmptyError
		none       *model.NoRenditionAvailableError
		incomplete *model.IncompleteSegmentSetError
		segment    *model.SegmentFetchError
		missing    *model.MuxToolMissingError
		failed     *model.MuxFailedError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &format), errors.As(err, &empty):
		return ExitManifest
	case errors.As(err, &none):
		return ExitNoRendition
	case errors.As(err, &incomplete), errors.As(err, &segment):
		return ExitIncomplete
	case errors.As(err, &missing), errors.As(err, &failed):
		return ExitMux
	default:
		return ExitFailure
	}
}
