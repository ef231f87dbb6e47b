// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import "time"

// ActionSummary contains performance information about one action. It is
// passed to StatusMonitor.LoaderHasFinished.
//
// Stage times are in floating point seconds. The image-sending stage
// hands over to the checksum wait while the tail of the image is still
// on the wire (but fully buffered), so Stage4bTime runs slightly short
// and Stage5Time slightly long, each by approximately EarlyStage4Return.
type ActionSummary struct {
	// Action is the action performed.
	Action Action

	// WasSuccessful indicates whether the action completed without
	// error.
	WasSuccessful bool

	// ErrorCode identifies the failure when WasSuccessful is false.
	ErrorCode ErrorCode

	// Baudrate, ResetDuration, and BootWaitDuration are the settings
	// snapshot the action ran with.
	Baudrate         uint32
	ResetDuration    time.Duration
	BootWaitDuration time.Duration

	// ImageSize is the size of the raw image in bytes;
	// EncodedImageSize the size of its 3BP encoding.
	ImageSize        int
	EncodedImageSize int

	// TotalTime is the sum of all stage times.
	TotalTime float64

	Stage1Time  float64 // preparation
	Stage2Time  float64 // reset and wait
	Stage2aTime float64 //   reset
	Stage2bTime float64 //   wait
	Stage3Time  float64 // establish communications
	Stage4Time  float64 // send command and image
	Stage4aTime float64 //   send command
	Stage4bTime float64 //   send image
	Stage5Time  float64 // wait for checksum status
	Stage6Time  float64 // wait for EEPROM programming status
	Stage7Time  float64 // wait for EEPROM verification status

	// EncodingTime is the image encoding time, part of stage 1.
	EncodingTime float64
}
