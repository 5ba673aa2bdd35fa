// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// resettableJar is a cookie jar that can be swapped for an empty one while
// the owning http.Client stays in use.
type resettableJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newResettableJar() (*resettableJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &resettableJar{jar: jar}, nil
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset discards every stored cookie.
func (j *resettableJar) Reset() {
	// cookiejar.New only fails on a bad PublicSuffixList; nil never does.
	fresh, _ := cookiejar.New(nil)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = fresh
}
