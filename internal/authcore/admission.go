package authcore

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/webgate-io/webgate/internal/config"
)

// Admission implements the OpenSSH-style MaxStartups probabilistic
// connection throttle. startups counts in-flight login
// attempts (between login_begin and login_finish), not completed
// sessions.
type Admission struct {
	cfg      config.MaxStartups
	startups atomic.Int64
}

// NewAdmission builds an Admission gate from the configured MaxStartups
// parameters.
func NewAdmission(cfg config.MaxStartups) *Admission {
	return &Admission{cfg: cfg}
}

// Begin increments the in-flight count. Callers must pair every Begin with
// exactly one Finish once login_finish runs, success or failure alike.
func (a *Admission) Begin() int64 { return a.startups.Add(1) }

// Finish decrements the in-flight count.
func (a *Admission) Finish() int64 { return a.startups.Add(-1) }

// Startups reports the current in-flight count, for load reporting.
func (a *Admission) Startups() int64 { return a.startups.Load() }

// Limits returns the configured throttle parameters.
func (a *Admission) Limits() config.MaxStartups { return a.cfg }

// CanStart evaluates the admission formula against the current in-flight
// count.
func (a *Admission) CanStart() bool {
	begin, rate, max := a.cfg.Begin, a.cfg.Rate, a.cfg.Max
	if max == 0 {
		return true
	}

	startups := a.startups.Load()
	switch {
	case startups <= int64(begin):
		return true
	case startups > int64(max):
		return false
	case rate == 100:
		return false
	}

	span := float64(max - begin)
	p := float64(100-rate)*(float64(startups)-float64(begin))/span + float64(rate)
	r := rand.Float64() * 100
	return r >= p
}
