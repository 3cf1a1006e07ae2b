// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock waits so the bus-readiness poll
// (§4.B) and the rendezvous stall warning (§8.2) can be driven
// deterministically from tests instead of sleeping for real.
package clock

import "time"

// Clock is the subset of time operations the coordinator needs:
// reading the current time, sleeping, and waiting for a duration to
// elapse without blocking the caller that started the wait.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) Sleep(d time.Duration)             { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
