// Package supervision implements the cluster supervision core: a periodic
// control loop that watches server heartbeats, drives a per-server health
// state machine, and schedules reconfiguration jobs against the agency.
package supervision

import (
    "log"
    "time"
)

// Config configures the Supervisor. Zero-value fields fall back to the
// documented defaults in New.
type Config struct {
    // Frequency is the tick period; the loop sleeps for Frequency between
    // iterations.
    Frequency time.Duration
    // GracePeriod is how long a server may go un-acknowledged before its
    // status becomes FAILED.
    GracePeriod time.Duration
    // OkThreshold is how long a server may go un-acknowledged before its
    // status drops from GOOD to BAD.
    OkThreshold time.Duration
    // AgencyPrefix is the path prefix under which all supervision keys
    // live (e.g. "/arango").
    AgencyPrefix string
    // Logger receives the supervisor's log lines. Defaults to log.Default().
    Logger *log.Logger
}

const (
    defaultFrequency   = 1 * time.Second
    defaultGracePeriod = 5 * time.Second
    defaultOkThreshold = 1500 * time.Millisecond
    defaultPrefix      = "/arango"
)

func (c Config) withDefaults() Config {
    if c.Frequency <= 0 {
        c.Frequency = defaultFrequency
    }
    if c.GracePeriod <= 0 {
        c.GracePeriod = defaultGracePeriod
    }
    if c.OkThreshold <= 0 {
        c.OkThreshold = defaultOkThreshold
    }
    if c.AgencyPrefix == "" {
        c.AgencyPrefix = defaultPrefix
    }
    if c.Logger == nil {
        c.Logger = log.Default()
    }
    return c
}

func (c Config) path(suffix string) string {
    return c.AgencyPrefix + suffix
}
