package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionFile holds a saved login session.
type SessionFile struct {
	Server   string          `json:"server"`
	Username string          `json:"username"`
	Cookies  []SessionCookie `json:"cookies"`
	SavedAt  time.Time       `json:"saved_at"`
}

// SessionCookie is one persisted cookie.
type SessionCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// sessionJar is a cookie jar whose contents can be dropped on logout
// without swapping the jar out from under in-flight requests.
type sessionJar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

func newSessionJar() (*sessionJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &sessionJar{inner: inner}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

func (j *sessionJar) reset() {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
}

// ExportSession captures the current session cookies for persistence.
func (c *Client) ExportSession(username string) *SessionFile {
	sf := &SessionFile{
		Server:   c.BaseURL(),
		Username: username,
		SavedAt:  time.Now(),
	}
	for _, ck := range c.jar.Cookies(c.baseURL) {
		sf.Cookies = append(sf.Cookies, SessionCookie{Name: ck.Name, Value: ck.Value})
	}
	return sf
}

// ImportSession restores cookies saved by ExportSession. The session must
// belong to the same server.
func (c *Client) ImportSession(sf *SessionFile) error {
	if sf.Server != c.BaseURL() {
		return fmt.Errorf("session belongs to %s, not %s", sf.Server, c.BaseURL())
	}
	cookies := make([]*http.Cookie, 0, len(sf.Cookies))
	for _, ck := range sf.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.jar.SetCookies(c.baseURL, cookies)
	return nil
}

// SaveSession writes a session file with owner-only permissions.
func SaveSession(path string, sf *SessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSession loads a session file.
func LoadSession(path string) (*SessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf SessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

// DeleteSession removes a saved session file. A missing file is not an error.
func DeleteSession(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
