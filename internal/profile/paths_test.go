package profile

import (
	"strings"
	"testing"
)

func TestPathsAreUnderProfileDir(t *testing.T) {
	dir := Dir("main")

	for name, p := range map[string]string{
		"lock":  LockPath("main"),
		"db":    DBPath("main"),
		"media": MediaDir("main"),
		"log":   LogPath("main"),
	} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%s path %q not under profile dir %q", name, p, dir)
		}
	}
}

func TestConfigPathIsGlobal(t *testing.T) {
	if strings.Contains(ConfigPath(), "profiles") {
		t.Errorf("config path %q should not be profile-scoped", ConfigPath())
	}
}
