package fiberrt

import "github.com/behrlich/go-fiberrt/internal/constants"

// Re-export constants for public API
const (
	DefaultThreadCount     = constants.DefaultThreadCount
	DefaultAsyncQueueSize  = constants.DefaultAsyncQueueSize
	MinAsyncQueueSize      = constants.MinAsyncQueueSize
	DefaultFiberStackSize  = constants.DefaultFiberStackSize
	NumPriorityLevels      = constants.NumPriorityLevels
	RequestThreshold       = constants.RequestThreshold
	SpanSize               = constants.SpanSize
	UnitSize               = constants.UnitSize
	NumRanks               = constants.NumRanks
	SmallRankMax           = constants.SmallRankMax
	MediumRankMax          = constants.MediumRankMax
	LargeRankMax           = constants.LargeRankMax
	MaxAllocSize           = constants.MaxAllocSize
	InitialEpoch           = constants.InitialEpoch
	ReclaimDelayEpochs     = constants.ReclaimDelayEpochs
	DefaultPollTimeout     = constants.DefaultPollTimeout
	ShutdownDrainTimeout   = constants.ShutdownDrainTimeout
)
