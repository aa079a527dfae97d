package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Remotes is the named-URL registry persisted at .dotgit/remotes. No
// network operation ever reads it; it exists purely as bookkeeping for
// a future transport layer, matching the control-directory layout's
// "remotes" file.
type Remotes struct {
	URLs map[string]string `json:"urls"`
}

func (r *Repo) remotesPath() string {
	return filepath.Join(r.GotDir, "remotes")
}

// ReadRemotes reads .dotgit/remotes. A missing file returns an empty registry.
func (r *Repo) ReadRemotes() (*Remotes, error) {
	data, err := os.ReadFile(r.remotesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Remotes{URLs: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("read remotes: %w", err)
	}
	var rm Remotes
	if err := json.Unmarshal(data, &rm); err != nil {
		return nil, fmt.Errorf("read remotes: unmarshal: %w", err)
	}
	if rm.URLs == nil {
		rm.URLs = make(map[string]string)
	}
	return &rm, nil
}

// WriteRemotes atomically writes .dotgit/remotes.
func (r *Repo) WriteRemotes(rm *Remotes) error {
	if rm == nil {
		rm = &Remotes{}
	}
	if rm.URLs == nil {
		rm.URLs = make(map[string]string)
	}
	data, err := json.MarshalIndent(rm, "", "  ")
	if err != nil {
		return fmt.Errorf("write remotes: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".remotes-tmp-*")
	if err != nil {
		return fmt.Errorf("write remotes: tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write remotes: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write remotes: close: %w", err)
	}
	if err := os.Rename(tmpName, r.remotesPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write remotes: rename: %w", err)
	}
	return nil
}

// SetRemote stores/updates a named remote URL.
func (r *Repo) SetRemote(name, remoteURL string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return fmt.Errorf("set remote: remote URL is required")
	}

	rm, err := r.ReadRemotes()
	if err != nil {
		return err
	}
	rm.URLs[name] = remoteURL
	return r.WriteRemotes(rm)
}

// RemoteURL returns the configured URL for the given remote name.
func (r *Repo) RemoteURL(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("remote name is required")
	}

	rm, err := r.ReadRemotes()
	if err != nil {
		return "", err
	}
	url, ok := rm.URLs[name]
	if !ok || strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("remote %q is not configured", name)
	}
	return url, nil
}

// ListRemotes returns remote name -> URL, sorted by name for display.
func (r *Repo) ListRemotes() ([]string, map[string]string, error) {
	rm, err := r.ReadRemotes()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(rm.URLs))
	for name := range rm.URLs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rm.URLs, nil
}
