// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event defines the events the Engine emits to the application:
// MessageReceived, ReconstructionFailed, MessageTimeout, and the
// trace-level ValidationFailed.
package event

import "github.com/luxfi/propeller/channel"

// Kind discriminates an Event's payload.
type Kind int

const (
	KindMessageReceived Kind = iota
	KindReconstructionFailed
	KindMessageTimeout
	KindValidationFailed
)

func (k Kind) String() string {
	switch k {
	case KindMessageReceived:
		return "MessageReceived"
	case KindReconstructionFailed:
		return "ReconstructionFailed"
	case KindMessageTimeout:
		return "MessageTimeout"
	case KindValidationFailed:
		return "ValidationFailed"
	default:
		return "Unknown"
	}
}

// FailureReason names why reconstruction or validation failed.
type FailureReason string

const (
	ReasonInsufficientShards   FailureReason = "InsufficientShards"
	ReasonUnequalShardLengths FailureReason = "UnequalShardLengths"
	ReasonRootMismatch         FailureReason = "RootMismatch"
	ReasonDuplicate            FailureReason = "Duplicate"
	ReasonUnexpectedSender     FailureReason = "UnexpectedSender"
	ReasonProofInvalid         FailureReason = "ProofInvalid"
	ReasonSignatureInvalid     FailureReason = "SignatureInvalid"
)

// Event is the single type carried on the Engine's event stream. Exactly
// one of its fields beyond Kind and Key is meaningful, selected by Kind.
type Event struct {
	Kind    Kind
	Key     channel.Key
	Message []byte        // KindMessageReceived
	Reason  FailureReason // KindReconstructionFailed, KindValidationFailed
}

// MessageReceived builds a delivery event.
func MessageReceived(key channel.Key, message []byte) Event {
	return Event{Kind: KindMessageReceived, Key: key, Message: message}
}

// ReconstructionFailed builds a reconstruction-failure event.
func ReconstructionFailed(key channel.Key, reason FailureReason) Event {
	return Event{Kind: KindReconstructionFailed, Key: key, Reason: reason}
}

// MessageTimeout builds a deadline-elapsed event.
func MessageTimeout(key channel.Key) Event {
	return Event{Kind: KindMessageTimeout, Key: key}
}

// ValidationFailed builds a trace-level per-unit validation failure event.
func ValidationFailed(key channel.Key, reason FailureReason) Event {
	return Event{Kind: KindValidationFailed, Key: key, Reason: reason}
}
