package version

import "testing"

func TestGet(t *testing.T) {
	if Get() == "" {
		t.Fatal("embedded version is empty")
	}
}

func TestString(t *testing.T) {
	prev := Commit
	t.Cleanup(func() { Commit = prev })

	Commit = ""
	if String() != Get() {
		t.Errorf("String() = %q, want %q", String(), Get())
	}
	Commit = "abc123"
	if want := Get() + " (abc123)"; String() != want {
		t.Errorf("String() = %q, want %q", String(), want)
	}
}
