package main

import "time"

type Time interface {
	UTCNow() time.Time
	Sleep(d time.Duration)
}

type RealTime struct{}

func (RealTime) UTCNow() time.Time {
	return time.Now().UTC()
}

func (RealTime) Sleep(d time.Duration) {
	time.Sleep(d)
}
