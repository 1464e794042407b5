package gateway

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

var (
	alreadyExistsCodes = map[string]struct{}{
		"DBClusterAlreadyExistsFault":         {},
		"DBClusterSnapshotAlreadyExistsFault": {},
		"DBSnapshotAlreadyExists":             {},
		"ExportTaskAlreadyExists":             {},
		"ExportTaskAlreadyExistsFault":        {},
	}
	notFoundCodes = map[string]struct{}{
		"DBClusterNotFoundFault":         {},
		"DBClusterSnapshotNotFoundFault": {},
		"DBSnapshotNotFound":             {},
		"ExportTaskNotFound":             {},
		"ExportTaskNotFoundFault":        {},
		"EntityNotFoundException":        {},
	}
	transientCodes = map[string]struct{}{
		"Throttling":                         {},
		"ThrottlingException":                {},
		"RequestLimitExceeded":               {},
		"TooManyRequestsException":           {},
		"ServiceUnavailable":                 {},
		"InternalFailure":                    {},
		"RequestTimeout":                     {},
		"PriorRequestNotComplete":            {},
		"InvalidDBClusterStateFault":         {},
		"InvalidDBClusterSnapshotStateFault": {},
		"InvalidDBSnapshotState":             {},
		"InvalidExportSourceState":           {},
		"InvalidExportTaskStateFault":        {},
		"InsufficientDBClusterCapacityFault": {},
		"InsufficientStorageClusterCapacity": {},
		"InvalidDBSubnetGroupStateFault":     {},
		"InvalidVPCNetworkStateFault":        {},
		"OperationTimeoutException":          {},
		"ConcurrentRunsExceededException":    {},
		"CrawlerRunningException":            {},
	}
)

// Classify maps an SDK error onto the ErrorKind taxonomy. API errors with an
// unrecognised code are permanent; errors that never reached the service
// (network, deadlines) are transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := alreadyExistsCodes[code]; ok {
			return KindAlreadyExists
		}
		if _, ok := notFoundCodes[code]; ok {
			return KindNotFound
		}
		if _, ok := transientCodes[code]; ok {
			return KindTransient
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return KindTransient
		}
		return KindPermanent
	}

	if errors.Is(err, context.Canceled) {
		return KindBudgetExhausted
	}
	return KindTransient
}

// FromError builds a StepResult for a failed call on id.
func FromError(id string, err error) StepResult {
	return Failure(Classify(err), id, err)
}
