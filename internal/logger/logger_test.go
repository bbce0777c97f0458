package logger

import "testing"

func TestNewIsSafeBeforeInit(t *testing.T) {
	l := New()
	if l.Log == nil {
		t.Fatal("expected a usable no-op logger")
	}
	// Must not panic.
	l.Log.Info("pre-init message")
}

func TestInitLevels(t *testing.T) {
	for _, level := range []string{"Debug", "Info", "Warn", "Error"} {
		l := New()
		if err := l.Init(level); err != nil {
			t.Errorf("Init(%q) failed: %v", level, err)
		}
	}
}

func TestInitInvalidLevel(t *testing.T) {
	l := New()
	if err := l.Init("loud"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
