/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package captions

import "time"

// Clock schedules phase timers. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is backed by time.AfterFunc.
var SystemClock Clock = systemClock{}
