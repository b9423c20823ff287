package config

import (
    "os"
    "strconv"
    "time"
)

// MeteringConfig groups the tunables of the metering core: the
// countdown tick period, the verification cadence, the staleness bound
// on open sessions and the lifetime of the cached client projection.
// Everything has a sensible default so a .env without these keys runs
// with the documented behavior.
type MeteringConfig struct {
    TickInterval       time.Duration // countdown tick period
    VerifyInitialDelay time.Duration // delay before the first verification after start
    VerifyInterval     time.Duration // period of the verification recheck loop
    StaleAfter         time.Duration // open sessions older than this are invalid
    CreationGrace      time.Duration // read-after-write grace for just-created sessions
    ProjectionTTL      time.Duration // Redis TTL of the active-session projection
}

// LoadMeteringConfig reads the metering tunables from the environment,
// falling back to defaults and clamping nonsense values the same way
// the rate limit loader does.
func LoadMeteringConfig() MeteringConfig {
    cfg := MeteringConfig{
        TickInterval:       envDur("METER_TICK_INTERVAL", time.Second),
        VerifyInitialDelay: envDur("VERIFY_INITIAL_DELAY", 2*time.Second),
        VerifyInterval:     envDur("VERIFY_INTERVAL", 10*time.Second),
        StaleAfter:         envDur("SESSION_STALE_AFTER", 24*time.Hour),
        CreationGrace:      envDur("SESSION_CREATION_GRACE", 3*time.Second),
        ProjectionTTL:      envDur("PROJECTION_TTL", 0),
    }
    if cfg.TickInterval <= 0 {
        cfg.TickInterval = time.Second
    }
    if cfg.VerifyInterval <= 0 {
        cfg.VerifyInterval = 10 * time.Second
    }
    if cfg.StaleAfter <= 0 {
        cfg.StaleAfter = 24 * time.Hour
    }
    // The projection must outlive any session the verifier would still
    // accept, so it defaults to the staleness bound plus slack.
    if cfg.ProjectionTTL <= 0 {
        cfg.ProjectionTTL = cfg.StaleAfter + 2*time.Hour
    }
    return cfg
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    switch v {
    case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
        return true
    case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.Atoi(v); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if dur, err := time.ParseDuration(v); err == nil {
        return dur
    }
    return d
}
