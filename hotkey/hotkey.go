// Package hotkey listens for a global Ctrl+Shift+Space so the presenter can
// start and stop the timer while the slides have focus.
package hotkey

import "time"

const Combo = "Ctrl+Shift+Space"

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Toggle turns key presses into toggle events. Presses closer together
// than debounce are ignored, which absorbs key bounce and auto-repeat on
// backends that report it as fresh presses.
type Toggle struct {
	ch   chan struct{}
	stop chan struct{}
}

func NewToggle(hk Hotkey, debounce time.Duration) *Toggle {
	t := &Toggle{ch: make(chan struct{}, 1), stop: make(chan struct{})}
	go t.run(hk, debounce)
	return t
}

// C delivers one value per accepted press.
func (t *Toggle) C() <-chan struct{} { return t.ch }

func (t *Toggle) Close() { close(t.stop) }

func (t *Toggle) run(hk Hotkey, debounce time.Duration) {
	var last time.Time
	for {
		select {
		case <-t.stop:
			return
		case <-hk.Keyup():
		case <-hk.Keydown():
			now := time.Now()
			if !last.IsZero() && now.Sub(last) < debounce {
				continue
			}
			last = now
			select {
			case t.ch <- struct{}{}:
			default:
			}
		}
	}
}
