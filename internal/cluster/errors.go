package cluster

import "errors"

// Sentinel errors for the processing pipeline. Callers classify failures with
// errors.Is; lower layers wrap these with context via fmt.Errorf("...: %w").
var (
	// ErrNotFound means the referenced image, face or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable means the object store could not serve the
	// image bytes.
	ErrStorageUnavailable = errors.New("object storage unavailable")

	// ErrDecodeFailure means the image bytes could not be decoded.
	ErrDecodeFailure = errors.New("image decode failed")

	// ErrExtractionFailure means the embedding extractor failed for the
	// whole image.
	ErrExtractionFailure = errors.New("face extraction failed")

	// ErrInvalidEmbedding means a single detection produced a zero-norm or
	// malformed embedding. Recovered locally: the detection is skipped.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrPersistenceFailure means a database write or transaction failed.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrAlreadyProcessing means the image is being processed right now;
	// re-triggering is rejected rather than coalesced or restarted.
	ErrAlreadyProcessing = errors.New("image already processing")

	// ErrAlreadyProcessed means the image is in a terminal status; a
	// terminal image re-enters the pipeline only through Retry, which
	// purges the prior results first.
	ErrAlreadyProcessed = errors.New("image already processed")

	// ErrSelfMerge means source and target of a merge are the same group.
	ErrSelfMerge = errors.New("cannot merge a group into itself")
)
