// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package callback

import (
	"embed"
	"io/fs"
	"os"
	"regexp"

	"github.com/samber/oops"
)

//go:embed pages/*.html
var builtinPages embed.FS

// Page names.
const (
	PageLogin             = "login"
	PageSecondFactor      = "2fa"
	PageSecondFactorError = "2fa_failed"
	PageLoginFailed       = "login_failed"
	PageFinished          = "finished"
	PageNotFound          = "404"
)

var pageName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// pageSet resolves page names to HTML, preferring an override directory
// over the built-in pages.
type pageSet struct {
	override fs.FS
	builtin  fs.FS
}

func newPageSet(dir string) (*pageSet, error) {
	builtin, err := fs.Sub(builtinPages, "pages")
	if err != nil {
		return nil, oops.Code("CONFIG_PAGES").Wrap(err)
	}
	p := &pageSet{builtin: builtin}
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, oops.Code("CONFIG_PAGES").With("pages_dir", dir).Wrap(err)
		}
		if !info.IsDir() {
			return nil, oops.Code("CONFIG_PAGES").With("pages_dir", dir).Errorf("pages_dir is not a directory")
		}
		p.override = os.DirFS(dir)
	}
	return p, nil
}

// lookup returns the named page, falling back to the not-found page.
func (p *pageSet) lookup(name string) []byte {
	if pageName.MatchString(name) {
		if body, ok := p.read(name); ok {
			return body
		}
	}
	body, _ := p.read(PageNotFound)
	return body
}

func (p *pageSet) read(name string) ([]byte, bool) {
	file := name + ".html"
	if p.override != nil {
		if body, err := fs.ReadFile(p.override, file); err == nil {
			return body, true
		}
	}
	body, err := fs.ReadFile(p.builtin, file)
	return body, err == nil
}
