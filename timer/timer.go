package timer

import (
	"fmt"
	"time"
)

const (
	DefaultLimit      = 5 * time.Minute
	DefaultWarnBefore = 1 * time.Minute

	ExtendLong  = 5 * time.Minute
	ExtendShort = 1 * time.Minute
)

type Event int

const (
	None Event = iota
	Warn       // warnBefore left on the clock
	Bell       // limit reached
)

func (e Event) String() string {
	switch e {
	case Warn:
		return "warn"
	case Bell:
		return "bell"
	default:
		return "none"
	}
}

// Keeper counts whole seconds of a talk against a limit. It is driven by an
// external once-per-second Tick and is not safe for concurrent use.
type Keeper struct {
	defaultLimit int
	warnBefore   int

	limit   int
	elapsed int
	running bool
	warned  bool
	rung    bool

	// bellOnce limits the bell to one ring per crossing of the limit.
	// By default it rings on every overtime tick.
	bellOnce bool
}

func New(limit, warnBefore time.Duration) *Keeper {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if warnBefore <= 0 {
		warnBefore = DefaultWarnBefore
	}
	k := &Keeper{
		defaultLimit: seconds(limit),
		warnBefore:   seconds(warnBefore),
	}
	k.limit = k.defaultLimit
	return k
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

func (k *Keeper) Start() bool {
	if k.running {
		return false
	}
	k.running = true
	k.warned = false
	k.rung = false
	return true
}

func (k *Keeper) Stop() bool {
	if !k.running {
		return false
	}
	k.running = false
	return true
}

// SetBellOnce switches between a bell on every overtime tick (the default)
// and a single bell per crossing of the limit.
func (k *Keeper) SetBellOnce(once bool) {
	k.bellOnce = once
}

// Tick advances the clock by one second. Cues are decided on the value
// before the increment, so the warning fires when exactly warnBefore remains
// and the bell fires from the tick that starts at the limit onwards.
func (k *Keeper) Tick() Event {
	if !k.running {
		return None
	}
	prev := k.elapsed
	k.elapsed++

	if prev >= k.limit && !(k.bellOnce && k.rung) {
		k.rung = true
		return Bell
	}
	if k.limit-prev == k.warnBefore && !k.warned {
		k.warned = true
		return Warn
	}
	return None
}

func (k *Keeper) Extend(d time.Duration) {
	k.limit += seconds(d)
	if k.limit > k.elapsed {
		k.rung = false
	}
}

// SetDefaultLimit changes the limit restored by Reset. The current limit is
// only touched while the talk has not started.
func (k *Keeper) SetDefaultLimit(d time.Duration) {
	if d <= 0 {
		return
	}
	k.defaultLimit = seconds(d)
	if !k.running && k.elapsed == 0 {
		k.limit = k.defaultLimit
	}
}

func (k *Keeper) Reset() {
	k.running = false
	k.limit = k.defaultLimit
	k.elapsed = 0
	k.warned = false
	k.rung = false
}

func (k *Keeper) Running() bool  { return k.running }
func (k *Keeper) Elapsed() int   { return k.elapsed }
func (k *Keeper) Limit() int     { return k.limit }
func (k *Keeper) Remaining() int { return k.limit - k.elapsed }
func (k *Keeper) Overtime() bool { return k.Remaining() < 0 }

func (k *Keeper) ElapsedDuration() time.Duration {
	return time.Duration(k.elapsed) * time.Second
}

func (k *Keeper) LimitDuration() time.Duration {
	return time.Duration(k.limit) * time.Second
}

// Format renders seconds as [-]m:ss.
func Format(secs int) string {
	abs := secs
	sign := ""
	if secs < 0 {
		abs = -secs
		sign = "-"
	}
	return fmt.Sprintf("%s%d:%02d", sign, abs/60, abs%60)
}
