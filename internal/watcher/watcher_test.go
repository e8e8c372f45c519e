package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	mu        sync.Mutex
	status    LinkStatus
	statusErr error
	fixErr    error
	fixes     int
}

func (f *fakeChecker) Status() (LinkStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeChecker) FixRegistered() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixes++
	if f.fixErr != nil {
		return f.fixErr
	}
	f.status.Registered = true
	return nil
}

type fakeRestarter struct {
	mu       sync.Mutex
	restarts int
	err      error
}

func (f *fakeRestarter) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.err
}

func (f *fakeRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name         string
		checker      *fakeChecker
		restartErr   error
		want         string
		wantFixes    int
		wantRestarts int
	}{
		{"not linked", &fakeChecker{}, nil, "ok", 0, 0},
		{"healthy", &fakeChecker{status: LinkStatus{Linked: true, Registered: true}}, nil, "ok", 0, 0},
		{"needs fix", &fakeChecker{status: LinkStatus{Linked: true}}, nil, "fixed", 1, 1},
		{"status error", &fakeChecker{statusErr: errors.New("io")}, nil, "error", 0, 0},
		{"fix error", &fakeChecker{status: LinkStatus{Linked: true}, fixErr: errors.New("ro")}, nil, "error", 1, 0},
		{"restart error", &fakeChecker{status: LinkStatus{Linked: true}}, errors.New("down"), "error", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRestarter{err: tt.restartErr}
			w := New(tt.checker, r, time.Second)

			assert.Equal(t, tt.want, w.Check(context.Background()))
			assert.Equal(t, tt.wantFixes, tt.checker.fixes)
			assert.Equal(t, tt.wantRestarts, r.count())
		})
	}
}

func TestRunFixesOnceAndStops(t *testing.T) {
	checker := &fakeChecker{status: LinkStatus{Linked: true}}
	r := &fakeRestarter{}
	w := New(checker, r, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	// Later iterations see registered=true and leave it alone.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, r.count())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func writeCreds(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCredsCheckerStatus(t *testing.T) {
	missing := NewCredsChecker(filepath.Join(t.TempDir(), "nope.json"))
	st, err := missing.Status()
	require.NoError(t, err)
	assert.Equal(t, LinkStatus{}, st)

	linked := NewCredsChecker(writeCreds(t, `{"me":{"id":"15551234567:12@s.whatsapp.net"},"registered":false}`))
	st, err = linked.Status()
	require.NoError(t, err)
	assert.Equal(t, LinkStatus{Linked: true, Registered: false, Phone: "+15551234567"}, st)

	unlinked := NewCredsChecker(writeCreds(t, `{"registered":true}`))
	st, err = unlinked.Status()
	require.NoError(t, err)
	assert.False(t, st.Linked)
	assert.True(t, st.Registered)

	broken := NewCredsChecker(writeCreds(t, `{not json`))
	_, err = broken.Status()
	assert.Error(t, err)
}

func TestCredsCheckerFixRegisteredPreservesKeys(t *testing.T) {
	path := writeCreds(t, `{"me":{"id":"1555:1@s.whatsapp.net","name":"x"},"registered":false,"noiseKey":{"private":"abc"},"advSecretKey":"s"}`)
	c := NewCredsChecker(path)

	require.NoError(t, c.FixRegistered())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, true, doc["registered"])
	assert.Equal(t, "s", doc["advSecretKey"])
	assert.Equal(t, map[string]any{"private": "abc"}, doc["noiseKey"])
	assert.Equal(t, map[string]any{"id": "1555:1@s.whatsapp.net", "name": "x"}, doc["me"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	st, err := c.Status()
	require.NoError(t, err)
	assert.True(t, st.Registered)
}

func TestCredsCheckerFixMissingFile(t *testing.T) {
	c := NewCredsChecker(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, c.FixRegistered())
}

func TestPhoneFromJID(t *testing.T) {
	assert.Equal(t, "+15551234567", phoneFromJID("15551234567:12@s.whatsapp.net"))
	assert.Equal(t, "+4912345", phoneFromJID("4912345@s.whatsapp.net"))
	assert.Equal(t, "+777", phoneFromJID("777"))
	assert.Equal(t, "", phoneFromJID("@s.whatsapp.net"))
}
