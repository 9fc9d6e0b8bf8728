package security

import (
	"sync"
	"time"
)

const (
	banThreshold  = 5
	banDuration   = 15 * time.Minute
	sweepInterval = time.Minute
)

type failureRecord struct {
	count        int
	firstFailure time.Time
}

// Limiter counts authentication failures per client IP and turns repeated
// failures into a temporary ban. State is in-process only: it does not
// survive a restart and is not shared across instances, so in a
// multi-instance deployment each instance bans independently.
type Limiter struct {
	now func() time.Time

	mu        sync.Mutex
	records   map[string]failureRecord
	lastSweep time.Time
}

func NewLimiter() *Limiter {
	return newLimiter(time.Now)
}

func newLimiter(now func() time.Time) *Limiter {
	return &Limiter{
		now:       now,
		records:   make(map[string]failureRecord),
		lastSweep: now(),
	}
}

func (r failureRecord) banned(now time.Time) bool {
	return r.count >= banThreshold && now.Sub(r.firstFailure) < banDuration
}

// RecordFailure adds one failure for ip and returns the updated streak
// length. A failure arriving while the IP is already banned re-anchors the
// streak at the new failure time, so a persistent attacker stays banned
// continuously instead of getting a fresh grace window.
func (l *Limiter) RecordFailure(ip string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	record, ok := l.records[ip]
	switch {
	case !ok:
		record = failureRecord{count: 1, firstFailure: now}
	case record.banned(now):
		record = failureRecord{count: record.count + 1, firstFailure: now}
	default:
		record = failureRecord{count: record.count + 1, firstFailure: record.firstFailure}
	}
	l.records[ip] = record
	return record.count
}

// IsBanned reports whether ip has reached the failure threshold within the
// current ban window.
func (l *Limiter) IsBanned(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	return l.records[ip].banned(now)
}

// RemainingBanSeconds returns how long the ban on ip still lasts, or 0.
func (l *Limiter) RemainingBanSeconds(ip string) int64 {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[ip]
	if !ok || !record.banned(now) {
		return 0
	}

	remaining := banDuration - now.Sub(record.firstFailure)
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// ResetFailures clears the streak for ip, called on successful authentication.
func (l *Limiter) ResetFailures(ip string) {
	l.mu.Lock()
	delete(l.records, ip)
	l.mu.Unlock()
}

// FailureCount returns the current streak length for ip.
func (l *Limiter) FailureCount(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[ip].count
}

// sweepLocked drops records whose window fully elapsed. Runs opportunistically
// on access, at most once per sweepInterval, so no background scheduler is
// needed to bound memory.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now

	for ip, record := range l.records {
		if now.Sub(record.firstFailure) > banDuration {
			delete(l.records, ip)
		}
	}
}
