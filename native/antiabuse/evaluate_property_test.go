package antiabuse

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestAdmittedOperationsNeverExceedWindow drives Evaluate with arbitrary
// arrival gaps and checks that no window ever holds more than MaxOperations
// admitted timestamps.
func TestAdmittedOperationsNeverExceedWindow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("window count bounded by max operations", prop.ForAll(
		func(gaps []uint16, maxOps uint8, window uint16) bool {
			cfg := Config{WindowSize: uint64(window) + 1, MaxOperations: uint32(maxOps%16) + 1}
			history := NewHistory(cfg)
			now := uint64(1_000_000)
			var admitted []uint64
			for _, gap := range gaps {
				now += uint64(gap % 512)
				if Evaluate(cfg, history, now) != nil {
					continue
				}
				history.Push(now)
				admitted = append(admitted, now)
				var inWindow uint32
				for _, ts := range admitted {
					if ts+cfg.WindowSize >= now {
						inWindow++
					}
				}
				if inWindow > cfg.MaxOperations {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt16()),
		gen.UInt8(),
		gen.UInt16(),
	))

	properties.Property("cooldown separates admitted operations", prop.ForAll(
		func(gaps []uint8, cooldown uint8) bool {
			cfg := Config{WindowSize: 1, MaxOperations: MaxTrackedOperations, CooldownPeriod: uint64(cooldown)}
			history := NewHistory(cfg)
			now := uint64(500)
			var last uint64
			seen := false
			for _, gap := range gaps {
				now += uint64(gap)
				if Evaluate(cfg, history, now) != nil {
					continue
				}
				if seen && now-last < cfg.CooldownPeriod {
					return false
				}
				history.Push(now)
				last, seen = now, true
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
