package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CredsChecker is the LinkChecker backed by the channel's JSON credentials
// file. A missing file means "not linked".
type CredsChecker struct {
	path string
}

// NewCredsChecker returns a checker for the credentials file at path.
func NewCredsChecker(path string) *CredsChecker {
	return &CredsChecker{path: path}
}

type creds struct {
	Me *struct {
		ID string `json:"id"`
	} `json:"me"`
	Registered bool `json:"registered"`
}

func (c *CredsChecker) Status() (LinkStatus, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return LinkStatus{}, nil
	}
	if err != nil {
		return LinkStatus{}, fmt.Errorf("read credentials: %w", err)
	}

	var cr creds
	if err := json.Unmarshal(data, &cr); err != nil {
		return LinkStatus{}, fmt.Errorf("parse credentials: %w", err)
	}
	st := LinkStatus{Registered: cr.Registered}
	if cr.Me != nil && cr.Me.ID != "" {
		st.Linked = true
		st.Phone = phoneFromJID(cr.Me.ID)
	}
	return st, nil
}

// FixRegistered sets "registered": true, keeping every other key, and
// replaces the file atomically.
func (c *CredsChecker) FixRegistered() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}
	doc["registered"] = json.RawMessage("true")

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".creds-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credentials: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path)
}

// phoneFromJID turns "15551234567:12@s.whatsapp.net" into "+15551234567".
func phoneFromJID(jid string) string {
	user := jid
	if i := strings.IndexAny(user, ":@"); i >= 0 {
		user = user[:i]
	}
	if user == "" {
		return ""
	}
	return "+" + user
}
