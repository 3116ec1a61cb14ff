package app

import "scorewatch/internal/runtime/lifecycle"

type StopReason = lifecycle.StopReason

const (
	StopUnknown      = lifecycle.StopUnknown
	StopSignal       = lifecycle.StopSignal
	StopNoEnrollment = lifecycle.StopNoEnrollment
	StopRetries      = lifecycle.StopRetries
	StopFatalError   = lifecycle.StopFatalError
)
