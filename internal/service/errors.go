package service

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a search failure.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindStoreUnavailable
	KindEncodingUnavailable
	KindSynthesisContractViolation
	KindSynthesisUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindEncodingUnavailable:
		return "EncodingUnavailable"
	case KindSynthesisContractViolation:
		return "SynthesisContractViolation"
	case KindSynthesisUnavailable:
		return "SynthesisUnavailable"
	default:
		return "Unknown"
	}
}

// Code maps the kind onto the gRPC status vocabulary.
func (k Kind) Code() codes.Code {
	switch k {
	case KindInvalidRequest:
		return codes.InvalidArgument
	case KindStoreUnavailable, KindEncodingUnavailable, KindSynthesisUnavailable:
		return codes.Unavailable
	case KindSynthesisContractViolation:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Stage is a step of the search pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageEncoded
	StageRetrieved
	StageRanked
	StageContextBuilt
	StageSynthesized
	StageCompleted
	StageErrored
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "Received"
	case StageEncoded:
		return "Encoded"
	case StageRetrieved:
		return "Retrieved"
	case StageRanked:
		return "Ranked"
	case StageContextBuilt:
		return "ContextBuilt"
	case StageSynthesized:
		return "Synthesized"
	case StageCompleted:
		return "Completed"
	case StageErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Error is returned by Search. Stage is the last stage the request reached
// before failing.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the gRPC code for the error kind.
func (e *Error) Code() codes.Code {
	return e.Kind.Code()
}

// GRPCStatus lets status.FromError and status.Code understand Error.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code(), e.Err.Error())
}
