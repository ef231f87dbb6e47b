// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Avery Kestrel, Kestrel Works

package loader

// StatusMonitor follows the activity of a Loader. All callbacks run on
// the worker goroutine created for the action, never on the caller's
// goroutine, and must not panic.
//
// Do not call CancelAndWait or WaitUntilFinished from any callback; the
// worker would be waiting on itself. Cancel is safe.
type StatusMonitor interface {
	// LoaderWillBegin is called once when an action is about to begin.
	// If LoaderWillBegin is called then LoaderHasFinished will be
	// called.
	LoaderWillBegin(l *Loader, action Action, secondsTakenSoFar, estimatedTotalSeconds float64)

	// LoaderUpdate is called when the loader's status changes. It might
	// never be called. estimatedTotalSeconds may change between calls
	// and is never less than secondsTakenSoFar.
	//
	// Return quickly: while this callback executes the loader is idle,
	// and if the loader is idle for much more than 100 milliseconds
	// during the status waits the target reboots.
	LoaderUpdate(l *Loader, status Status, secondsTakenSoFar, estimatedTotalSeconds float64)

	// LoaderHasFinished is called exactly once when the action has
	// finished. On success code is ErrorNone and details is empty.
	//
	// By the time it is called the action is over: IsBusy reports
	// false (unless another action has already begun) and any waiters
	// have been released. LoaderWillBegin for a subsequent action is
	// not called until this callback returns.
	LoaderHasFinished(l *Loader, code ErrorCode, details string, summary ActionSummary)
}
