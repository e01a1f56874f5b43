package model

import "github.com/pkg/errors"

// Error taxonomy shared by the extractor, the codecs and the runtime. Callers
// match with errors.Is; producers wrap these with position details.
var (
	// ErrMalformedIdentifier is returned when a frame's arbitration id is not hex.
	ErrMalformedIdentifier = errors.New("malformed identifier")

	// ErrTruncatedRecord is returned when a binary stream ends inside a record.
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrMalformedToken is returned when a text token has the wrong width or alphabet.
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidRowWidth is returned when a bit-field row is not exactly RowBits wide.
	ErrInvalidRowWidth = errors.New("invalid row width")

	// ErrNodeNotFound is returned by lookups for ids absent from a tree.
	ErrNodeNotFound = errors.New("node not found")

	// ErrCorruptTree marks a traversal that reached a dangling child reference.
	ErrCorruptTree = errors.New("corrupt tree")

	// ErrCycleDetected marks a traversal that exceeded the tree's node budget.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrNoValidVotes is returned when every tree of a forest abstained.
	ErrNoValidVotes = errors.New("no valid votes")

	// ErrUnknownFeatureCode is returned for feature codes outside the closed enum.
	ErrUnknownFeatureCode = errors.New("unknown feature code")

	// ErrInvalidNode is returned for nodes that are neither a valid split nor a valid leaf.
	ErrInvalidNode = errors.New("invalid node")

	// ErrIndexRange is returned when an id, child or label does not fit its field.
	ErrIndexRange = errors.New("index out of range")

	// ErrThresholdRange is returned when a threshold cannot be represented by a scheme.
	ErrThresholdRange = errors.New("threshold out of range")

	// ErrSchemeMismatch is returned when artifact metadata disagrees with the
	// configured threshold scheme.
	ErrSchemeMismatch = errors.New("threshold scheme mismatch")
)
