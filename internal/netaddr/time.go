package netaddr

import "time"

var processStart = time.Now()

// Now returns monotonic seconds elapsed since process start, the Go
// equivalent of the original's proxy_time().
func Now() float64 {
	return time.Since(processStart).Seconds()
}

// Sleep sleeps for the given number of seconds.
func Sleep(seconds float64) {
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}
