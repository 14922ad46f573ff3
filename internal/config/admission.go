package config

import "time"

// EntryTTL is how long a queue entry survives without an enqueue or status
// poll touching it.  It is fixed, not configurable.
const EntryTTL = 30 * time.Minute

// AdmissionConfig controls the waiting room.
type AdmissionConfig struct {
    PassTokenTTL     time.Duration // lifetime of an issued pass token
    PermitsPerMinute int           // admissions per minute per event
    EntryTTL         time.Duration // inactivity expiry for queue entries
    WindowTTL        time.Duration // how long an idle event keeps its window and counter
}

// LoadAdmissionConfig reads PASS_TOKEN_TTL_SECONDS, ADMISSION_PERMITS_PER_MINUTE
// and ADMISSION_WINDOW_TTL.
func LoadAdmissionConfig() AdmissionConfig {
    cfg := AdmissionConfig{
        PassTokenTTL:     envSeconds("PASS_TOKEN_TTL_SECONDS", 5*time.Minute),
        PermitsPerMinute: envInt("ADMISSION_PERMITS_PER_MINUTE", 60),
        EntryTTL:         EntryTTL,
        WindowTTL:        envDur("ADMISSION_WINDOW_TTL", 24*time.Hour),
    }
    if cfg.PermitsPerMinute < 1 { cfg.PermitsPerMinute = 1 }
    if cfg.WindowTTL < cfg.EntryTTL { cfg.WindowTTL = cfg.EntryTTL }
    return cfg
}
