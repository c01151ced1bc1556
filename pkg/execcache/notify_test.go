package execcache

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func Test_LogNotifier_Warn_Writes_To_Logger(t *testing.T) {
	var buf bytes.Buffer

	n := NewLogNotifier(log.New(&buf, "", 0))
	n.Warn("cross-device fallback")

	if got := buf.String(); !strings.Contains(got, "cross-device fallback") {
		t.Fatalf("log output %q does not contain the warning message", got)
	}
}

func Test_LogNotifier_Error_Includes_Operation_ID(t *testing.T) {
	var buf bytes.Buffer

	n := NewLogNotifier(log.New(&buf, "", 0))
	n.Error(42, "boom")

	got := buf.String()

	if !strings.Contains(got, "42") || !strings.Contains(got, "boom") {
		t.Fatalf("log output %q missing op id or message", got)
	}
}

func Test_NewLogNotifier_Panics_On_Nil_Logger(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected a panic for a nil logger")
		}
	}()

	NewLogNotifier(nil)
}

func Test_NopNotifier_Discards_Everything(t *testing.T) {
	var n NopNotifier

	// Nothing to assert beyond "does not panic."
	n.Warn("ignored")
	n.Error(1, "ignored")
	n.Debug(1, "ignored")
}

func Test_WarnOnce_Fires_Exactly_Once(t *testing.T) {
	calls := 0
	w := &warnOnce{n: &countingNotifier{onWarn: func(string) { calls++ }}}

	w.warn("first")
	w.warn("second")
	w.warn("third")

	if got, want := calls, 1; got != want {
		t.Fatalf("calls=%d, want=%d", got, want)
	}
}
