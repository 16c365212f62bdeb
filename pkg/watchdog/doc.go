// Package watchdog detects a relay that has gone quiet and repairs it.
//
// Two periodic tasks run while the watchdog is started:
//
//   - The main check (every 15 minutes) restarts a disabled listener,
//     requests a simple restart after an hour of silence (gated by its own
//     backoff ladder of 2, 5, 15, 30 and 60 minutes) and escalates straight
//     to a deep reset past the 12 hour ceiling.
//   - The independent check (every 3 hours) forces a reset after 6 hours of
//     silence, whatever the main check's backoff says.
//
// Silence is measured from the later of the last inbound message and the
// watchdog's baseline, which is set on start and after a deep reset so a
// relay that has never received anything is not reset immediately.
//
// Only one repair runs at a time. Repairs pause between steps with
// context-aware timers and never abort the loop on failure.
package watchdog
