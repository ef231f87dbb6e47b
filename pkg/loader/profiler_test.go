// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

func TestProfiler_EstimateRestart(t *testing.T) {
	p := &profiler{}
	p.start(ActionRestart, 115200, 10*time.Millisecond, 100*time.Millisecond)

	// At stage 1 a restart is the preparation floor plus the reset
	// pulse; the boot wait and everything after are skipped.
	want := 0.1 + 0.010
	if got := p.estimatedTotalTime(); !almostEqual(got, want) {
		t.Errorf("estimate = %v, want %v", got, want)
	}
}

func TestProfiler_EstimateShutdown(t *testing.T) {
	p := &profiler{}
	p.start(ActionShutdown, 115200, 10*time.Millisecond, 100*time.Millisecond)

	secondsPerByte := 10.0 / 115200.0
	want := 0.1 + 0.010 + 0.100 + float64(len(initBytes))*secondsPerByte
	if got := p.estimatedTotalTime(); !almostEqual(got, want) {
		t.Errorf("estimate = %v, want %v", got, want)
	}
}

func TestProfiler_EstimateLoadRAM(t *testing.T) {
	p := &profiler{}
	p.start(ActionLoadRAM, 115200, 10*time.Millisecond, 100*time.Millisecond)
	p.willStartEncodingImage(1024)
	p.finishedEncodingImage(3000)

	secondsPerByte := 10.0 / 115200.0
	want := 0.1 + 0.010 + 0.100 +
		float64(len(initBytes))*secondsPerByte +
		3000*secondsPerByte +
		0.1 // checksum wait
	if got := p.estimatedTotalTime(); !almostEqual(got, want) {
		t.Errorf("estimate = %v, want %v", got, want)
	}
}

func TestProfiler_EstimateProgramEEPROM(t *testing.T) {
	p := &profiler{}
	p.start(ActionProgramEEPROMThenRun, 115200, 10*time.Millisecond, 100*time.Millisecond)
	p.willStartEncodingImage(1024)
	p.finishedEncodingImage(3000)

	secondsPerByte := 10.0 / 115200.0
	want := 0.1 + 0.010 + 0.100 +
		float64(len(initBytes))*secondsPerByte +
		3000*secondsPerByte +
		0.1 + 3.7 + 1.3
	if got := p.estimatedTotalTime(); !almostEqual(got, want) {
		t.Errorf("estimate = %v, want %v", got, want)
	}
}

func TestProfiler_EstimateShrinksAsStagesPass(t *testing.T) {
	p := &profiler{}
	p.start(ActionProgramEEPROMThenRun, 115200, 10*time.Millisecond, 100*time.Millisecond)
	p.willStartEncodingImage(1024)
	p.finishedEncodingImage(3000)

	// With no real time elapsing, the remaining-work estimate can only
	// shrink as the cursor advances.
	prev := p.estimatedTotalTime()
	advance := []func(){
		p.endStage1, p.endStage2a, p.endStage2b, p.endStage3,
		p.endStage4a, p.endStage4b, p.endStage5, p.endStage6,
	}
	for i, end := range advance {
		end()
		est := p.estimatedTotalTime() - p.summary.TotalTime
		if est > prev {
			t.Errorf("after stage end %d remaining estimate grew: %v > %v", i, est, prev)
		}
		prev = est
	}
}

func TestProfiler_StageTimes(t *testing.T) {
	p := &profiler{}
	p.start(ActionLoadRAM, 115200, 10*time.Millisecond, 100*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	p.endStage1()
	if p.summary.Stage1Time < 0.015 {
		t.Errorf("Stage1Time = %v, want >= 0.015", p.summary.Stage1Time)
	}

	p.endStage2a()
	p.endStage2b()
	if !almostEqual(p.summary.Stage2Time, p.summary.Stage2aTime+p.summary.Stage2bTime) {
		t.Errorf("Stage2Time should be the sum of 2a and 2b")
	}

	total := p.summary.Stage1Time + p.summary.Stage2Time
	if !almostEqual(p.summary.TotalTime, total) {
		t.Errorf("TotalTime = %v, want %v", p.summary.TotalTime, total)
	}
}

func TestProfiler_EndWithErrorClosesCurrentStage(t *testing.T) {
	p := &profiler{}
	p.start(ActionLoadRAM, 115200, 10*time.Millisecond, 100*time.Millisecond)
	p.endStage1()
	p.endStage2a()

	time.Sleep(10 * time.Millisecond)
	p.endWithError(ErrorFailedToFlushInput)

	if p.summary.WasSuccessful {
		t.Error("summary should be unsuccessful")
	}
	if p.summary.ErrorCode != ErrorFailedToFlushInput {
		t.Errorf("ErrorCode = %v", p.summary.ErrorCode)
	}
	// Stage 2b was running; its timer must be closed.
	if p.summary.Stage2bTime <= 0 {
		t.Error("Stage2bTime should have been recorded")
	}
	if p.currStage != stageFinished {
		t.Errorf("currStage = %v, want finished", p.currStage)
	}
}

func TestProfiler_EncodingTime(t *testing.T) {
	p := &profiler{}
	p.start(ActionLoadRAM, 115200, 10*time.Millisecond, 100*time.Millisecond)
	p.willStartEncodingImage(4096)
	time.Sleep(5 * time.Millisecond)
	p.finishedEncodingImage(11000)

	if p.summary.ImageSize != 4096 {
		t.Errorf("ImageSize = %d", p.summary.ImageSize)
	}
	if p.summary.EncodedImageSize != 11000 {
		t.Errorf("EncodedImageSize = %d", p.summary.EncodedImageSize)
	}
	if p.summary.EncodingTime <= 0 {
		t.Error("EncodingTime should be positive")
	}
}
