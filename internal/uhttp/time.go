/*
 * Copyright 2024 the urpc project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package uhttp

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	clockOnce        sync.Once
	timeValue        atomic.Value
	timeRFC1123Value atomic.Value
)

// startClock publishes the current time and refreshes it every second.
// HTTP servers do not need a more precise Date header.
func startClock() {
	clockOnce.Do(func() {
		now := time.Now()
		timeValue.Store(now)
		timeRFC1123Value.Store(string(appendTime(nil, now)))

		go func() {
			var ticker = time.NewTicker(time.Second)
			defer ticker.Stop()

			var timeBuf [64]byte

			for t := range ticker.C {
				timeBytes := appendTime(timeBuf[:0], t)

				timeValue.Store(t)
				timeRFC1123Value.Store(string(timeBytes))
			}
		}()
	})
}

// Now returns the cached current time.
func Now() time.Time {
	startClock()
	return timeValue.Load().(time.Time)
}

// NowRFC1123String returns the cached current time formatted with TimeFormat.
func NowRFC1123String() string {
	startClock()
	return timeRFC1123Value.Load().(string)
}

// TimeFormat is the time format to use when generating times in HTTP
// headers. It is like [time.RFC1123] but hard-codes GMT as the time
// zone.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// appendTime is a non-allocating version of []byte(t.UTC().Format(TimeFormat))
func appendTime(b []byte, t time.Time) []byte {
	const days = "SunMonTueWedThuFriSat"
	const months = "JanFebMarAprMayJunJulAugSepOctNovDec"

	t = t.UTC()
	yy, mm, dd := t.Date()
	hh, mn, ss := t.Clock()
	day := days[3*t.Weekday():]
	mon := months[3*(mm-1):]

	return append(b,
		day[0], day[1], day[2], ',', ' ',
		byte('0'+dd/10), byte('0'+dd%10), ' ',
		mon[0], mon[1], mon[2], ' ',
		byte('0'+yy/1000), byte('0'+(yy/100)%10), byte('0'+(yy/10)%10), byte('0'+yy%10), ' ',
		byte('0'+hh/10), byte('0'+hh%10), ':',
		byte('0'+mn/10), byte('0'+mn%10), ':',
		byte('0'+ss/10), byte('0'+ss%10), ' ',
		'G', 'M', 'T')
}
