// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

import "time"

// Stage cursor values for the profiler.
type stage int

const (
	stage1 stage = iota
	stage2a
	stage2b
	stage3
	stage4a
	stage4b
	stage5
	stage6
	stage7
	stageFinished
)

// profiler keeps track of an action's performance and provides timing
// estimates of future stages. The update methods must be called in stage
// order; stageTime works like the lap feature of a stopwatch.
type profiler struct {
	summary       ActionSummary
	currStage     stage
	encodingStart time.Time
	stageStart    time.Time
}

func (p *profiler) start(action Action, baudrate uint32, resetDuration, bootWaitDuration time.Duration) {
	p.currStage = stage1
	p.stageStart = time.Now()
	p.summary = ActionSummary{
		Action:           action,
		Baudrate:         baudrate,
		ResetDuration:    resetDuration,
		BootWaitDuration: bootWaitDuration,
	}
}

// willStartEncodingImage is called before image encoding, for actions
// that carry an image.
func (p *profiler) willStartEncodingImage(imageSize int) {
	p.summary.ImageSize = imageSize
	p.encodingStart = time.Now()
}

// finishedEncodingImage records the encoding duration and the size of
// the encoded byte buffer (not the size of the original image).
func (p *profiler) finishedEncodingImage(encodedImageSize int) {
	p.summary.EncodingTime = time.Since(p.encodingStart).Seconds()
	p.summary.EncodedImageSize = encodedImageSize
}

// estimatedTotalTime returns the estimated total seconds for the action,
// accumulating the remaining stages from the current one forward. The
// estimate is incomplete until finishedEncodingImage has been called
// (assuming the action requires an image). Status wait estimates are
// empirical figures for a 12 MHz target.
func (p *profiler) estimatedTotalTime() float64 {
	secondsPerByte := 10.0 / float64(p.summary.Baudrate)
	est := p.summary.TotalTime
	switch p.currStage {
	case stage1:
		est += 0.1 // just to guarantee the estimate is non-zero
		fallthrough
	case stage2a:
		est += p.summary.ResetDuration.Seconds()
		if p.summary.Action == ActionRestart {
			break
		}
		fallthrough
	case stage2b:
		est += p.summary.BootWaitDuration.Seconds()
		fallthrough
	case stage3:
		est += float64(len(initBytes)) * secondsPerByte
		fallthrough
	case stage4a:
		// The command is a handful of bytes; its time is insignificant.
		if p.summary.Action == ActionShutdown {
			break
		}
		fallthrough
	case stage4b:
		est += float64(p.summary.EncodedImageSize) * secondsPerByte
		fallthrough
	case stage5:
		est += 0.1
		if p.summary.Action == ActionLoadRAM {
			break
		}
		fallthrough
	case stage6:
		est += 3.7
		fallthrough
	case stage7:
		est += 1.3
	case stageFinished:
	}
	return est
}

// stageTime reports the seconds since the previous stageTime or start
// call and restarts the lap timer.
func (p *profiler) stageTime() float64 {
	now := time.Now()
	t := now.Sub(p.stageStart).Seconds()
	p.stageStart = now
	return t
}

func (p *profiler) endStage1() {
	p.currStage = stage2a
	p.summary.Stage1Time = p.stageTime()
	p.summary.TotalTime += p.summary.Stage1Time
}

func (p *profiler) endStage2a() {
	p.currStage = stage2b
	p.summary.Stage2aTime = p.stageTime()
	p.summary.Stage2Time = p.summary.Stage2aTime
	p.summary.TotalTime += p.summary.Stage2aTime
}

func (p *profiler) endStage2b() {
	p.currStage = stage3
	p.summary.Stage2bTime = p.stageTime()
	p.summary.Stage2Time += p.summary.Stage2bTime
	p.summary.TotalTime += p.summary.Stage2bTime
}

func (p *profiler) endStage3() {
	p.currStage = stage4a
	p.summary.Stage3Time = p.stageTime()
	p.summary.TotalTime += p.summary.Stage3Time
}

func (p *profiler) endStage4a() {
	p.currStage = stage4b
	p.summary.Stage4aTime = p.stageTime()
	p.summary.Stage4Time = p.summary.Stage4aTime
	p.summary.TotalTime += p.summary.Stage4aTime
}

func (p *profiler) endStage4b() {
	p.currStage = stage5
	p.summary.Stage4bTime = p.stageTime()
	p.summary.Stage4Time += p.summary.Stage4bTime
	p.summary.TotalTime += p.summary.Stage4bTime
}

func (p *profiler) endStage5() {
	p.currStage = stage6
	p.summary.Stage5Time = p.stageTime()
	p.summary.TotalTime += p.summary.Stage5Time
}

func (p *profiler) endStage6() {
	p.currStage = stage7
	p.summary.Stage6Time = p.stageTime()
	p.summary.TotalTime += p.summary.Stage6Time
}

func (p *profiler) endStage7() {
	p.summary.Stage7Time = p.stageTime()
	p.summary.TotalTime += p.summary.Stage7Time
}

// endOK marks the action successful. Exactly one of endOK or
// endWithError must be called.
func (p *profiler) endOK() {
	p.currStage = stageFinished
	p.summary.WasSuccessful = true
}

// endWithError closes the timer of whatever stage was running and
// records the failure.
func (p *profiler) endWithError(code ErrorCode) {
	switch p.currStage {
	case stage1:
		p.endStage1()
	case stage2a:
		p.endStage2a()
	case stage2b:
		p.endStage2b()
	case stage3:
		p.endStage3()
	case stage4a:
		p.endStage4a()
	case stage4b:
		p.endStage4b()
	case stage5:
		p.endStage5()
	case stage6:
		p.endStage6()
	case stage7:
		p.endStage7()
	}
	p.currStage = stageFinished
	p.summary.WasSuccessful = false
	p.summary.ErrorCode = code
}
