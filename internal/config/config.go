// Package config collects every runtime tunable behind "parse or
// default" environment lookups.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime-tunable constant. Zero value is never used
// directly; construct with FromEnv.
type Config struct {
	ServerPort     int
	MaxClients     int
	ListenBacklog  int
	NetBufferSize  int
	MaxInstances   int
	MaxQueueSize   int
	TaskNameLen    int
	CPUPinCore     int
	CalibrateFor   time.Duration
	PriorityBase   int
	PriorityStep   int
	PriorityMin    int
	PriorityMax    int
}

// FromEnv builds a Config from the process environment, falling back to
// documented defaults for anything unset or unparseable.
func FromEnv() Config {
	return Config{
		ServerPort:    getenvInt("RTSUP_PORT", 8080),
		MaxClients:    getenvInt("RTSUP_MAX_CLIENTS", 25),
		ListenBacklog: getenvInt("RTSUP_BACKLOG", 5),
		NetBufferSize: getenvInt("RTSUP_NET_BUFFER_SIZE", 4096),
		MaxInstances:  getenvInt("RTSUP_MAX_INSTANCES", 20),
		MaxQueueSize:  getenvInt("RTSUP_MAX_QUEUE_SIZE", 20),
		TaskNameLen:   getenvInt("RTSUP_TASK_NAME_LEN", 32),
		CPUPinCore:    getenvInt("RTSUP_CPU_PIN_CORE", 0),
		CalibrateFor:  getenvDuration("RTSUP_CALIBRATE_FOR", 200*time.Millisecond),
		PriorityBase:  getenvInt("RTSUP_PRIO_BASE", 90),
		PriorityStep:  getenvInt("RTSUP_PRIO_STEP", 100),
		PriorityMin:   getenvInt("RTSUP_PRIO_MIN", 1),
		PriorityMax:   getenvInt("RTSUP_PRIO_MAX", 90),
	}
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
