package models

import (
	"context"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

func TestWatcherRelevant(t *testing.T) {
	w := &Watcher{}
	cases := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"model_created", fsnotify.Event{Name: "/m/ggml-base.bin", Op: fsnotify.Create}, true},
		{"model_written", fsnotify.Event{Name: "/m/ggml-base.bin", Op: fsnotify.Write}, true},
		{"model_removed", fsnotify.Event{Name: "/m/ggml-base.bin", Op: fsnotify.Remove}, true},
		{"model_renamed", fsnotify.Event{Name: "/m/ggml-base.bin", Op: fsnotify.Rename}, true},
		{"chmod_is_noise", fsnotify.Event{Name: "/m/ggml-base.bin", Op: fsnotify.Chmod}, false},
		{"temp_file_is_noise", fsnotify.Event{Name: "/m/ggml-base.bin.tmp", Op: fsnotify.Write}, false},
		{"unrelated_extension_is_noise", fsnotify.Event{Name: "/m/notes.txt", Op: fsnotify.Create}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := w.relevant(tc.ev); got != tc.want {
				t.Errorf("relevant(%v) = %v, want %v", tc.ev, got, tc.want)
			}
		})
	}
}

func TestWatcherRescans(t *testing.T) {
	t.Run("file_dropped_into_the_directory_becomes_available", func(t *testing.T) {
		c := testCatalog(t)
		m := startManager(t, c, ManagerOptions{})

		w, err := NewWatcher(c.Dir(), m, zerolog.Nop())
		if err != nil {
			t.Fatalf("new watcher: %v", err)
		}
		w.Start(context.Background())
		t.Cleanup(w.Stop)

		if st, _ := m.Status("tiny"); st.State != StateMissing {
			t.Fatalf("precondition: tiny state = %s, want missing", st.State)
		}
		writeModel(t, c, "tiny")

		waitForState(t, m, "tiny", StateAvailable)
	})
}
