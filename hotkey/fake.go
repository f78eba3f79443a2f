package hotkey

type FakeHotkey struct {
	keydown    chan struct{}
	keyup      chan struct{}
	registered bool
	err        error
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

// NewFailingFake returns a hotkey whose Register fails with err.
func NewFailingFake(err error) *FakeHotkey {
	f := NewFake()
	f.err = err
	return f
}

func (f *FakeHotkey) Register() error {
	if f.err != nil {
		return f.err
	}
	f.registered = true
	return nil
}

func (f *FakeHotkey) Unregister()              { f.registered = false }
func (f *FakeHotkey) Registered() bool         { return f.registered }
func (f *FakeHotkey) Keydown() <-chan struct{} { return f.keydown }
func (f *FakeHotkey) Keyup() <-chan struct{}   { return f.keyup }

// Press simulates a full key press.
func (f *FakeHotkey) Press() {
	f.keydown <- struct{}{}
	f.keyup <- struct{}{}
}
