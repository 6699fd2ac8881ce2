// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field location is a heuristic, not a contract. Strategies are tried in
// order and the first match wins; the username is resolved before the
// password is used for anything.

var (
	ErrNoPasswordField        = errors.New("no password field on page")
	ErrAmbiguousPasswordField = errors.New("more than one password field on page")
)

// LoginForm holds CSS selectors for the located controls. Username and Submit
// are empty when not found.
type LoginForm struct {
	Username string
	Password string
	Submit   string
}

// usernameHints are substrings of name/id attributes that mark a username
// input.
var usernameHints = []string{"user", "login", "email"}

// textTypes are input types that can hold a username.
var textTypes = []string{"text", "email", "tel", ""}

// CountPasswordFields returns the number of usable password inputs in html.
func CountPasswordFields(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	return passwordInputs(doc.Selection).Length()
}

// LocateLoginForm finds the login controls in html. Exactly one usable
// password input must be present.
func LocateLoginForm(html string) (*LoginForm, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	passwords := passwordInputs(doc.Selection)
	switch passwords.Length() {
	case 0:
		return nil, ErrNoPasswordField
	case 1:
	default:
		return nil, fmt.Errorf("%w (%d found)", ErrAmbiguousPasswordField, passwords.Length())
	}
	password := passwords.First()

	scope := password.Closest("form")
	if scope.Length() == 0 {
		scope = doc.Selection
	}

	form := &LoginForm{Password: selectorFor(doc, password)}
	if user := findUsername(scope, password); user != nil {
		form.Username = selectorFor(doc, user)
	}
	if f := password.Closest("form"); f.Length() > 0 {
		if submit := findSubmit(f); submit != nil {
			form.Submit = selectorFor(doc, submit)
		}
	}
	return form, nil
}

func passwordInputs(s *goquery.Selection) *goquery.Selection {
	return s.Find("input").FilterFunction(func(_ int, in *goquery.Selection) bool {
		return inputType(in) == "password" && usable(in)
	})
}

// findUsername applies the username strategies within scope.
func findUsername(scope, password *goquery.Selection) *goquery.Selection {
	candidates := scope.Find("input").FilterFunction(func(_ int, in *goquery.Selection) bool {
		return slices.Contains(textTypes, inputType(in)) && usable(in)
	})
	if candidates.Length() == 0 {
		return nil
	}

	strategies := []func(*goquery.Selection) bool{
		func(in *goquery.Selection) bool {
			ac := strings.ToLower(in.AttrOr("autocomplete", ""))
			return slices.Contains(strings.Fields(ac), "username")
		},
		func(in *goquery.Selection) bool {
			return inputType(in) == "email"
		},
		func(in *goquery.Selection) bool {
			attrs := strings.ToLower(in.AttrOr("name", "") + " " + in.AttrOr("id", ""))
			for _, hint := range usernameHints {
				if strings.Contains(attrs, hint) {
					return true
				}
			}
			return false
		},
	}
	for _, match := range strategies {
		if found := candidates.FilterFunction(func(_ int, in *goquery.Selection) bool { return match(in) }); found.Length() > 0 {
			return found.First()
		}
	}

	// Last resort: the nearest text input preceding the password.
	var nearest *goquery.Selection
	pw := password.Get(0)
	scope.Find("input").EachWithBreak(func(_ int, in *goquery.Selection) bool {
		if in.Get(0) == pw {
			return false
		}
		if in.IsSelection(candidates) {
			nearest = in
		}
		return true
	})
	return nearest
}

// findSubmit returns the form's first submit control.
func findSubmit(form *goquery.Selection) *goquery.Selection {
	found := form.Find("button, input").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if !usable(s) {
			return false
		}
		if goquery.NodeName(s) == "button" {
			t := strings.ToLower(s.AttrOr("type", "submit"))
			return t == "submit"
		}
		t := inputType(s)
		return t == "submit" || t == "image"
	})
	if found.Length() == 0 {
		return nil
	}
	return found.First()
}

func inputType(in *goquery.Selection) string {
	return strings.ToLower(strings.TrimSpace(in.AttrOr("type", "")))
}

var hiddenStyle = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden)`)

// usable reports whether a control can plausibly be seen and edited. Only
// attributes are inspected; computed styles are not available here.
func usable(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return false
	}
	if _, ok := s.Attr("hidden"); ok {
		return false
	}
	if s.AttrOr("aria-hidden", "") == "true" || inputType(s) == "hidden" {
		return false
	}
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		if hiddenStyle.MatchString(n.AttrOr("style", "")) {
			return false
		}
	}
	return true
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// selectorFor returns a selector that resolves to exactly s within doc: the
// element's id when it is unique, otherwise its nth-child path from <html>.
func selectorFor(doc *goquery.Document, s *goquery.Selection) string {
	if id := s.AttrOr("id", ""); id != "" {
		sel := `[id="` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(id) + `"]`
		if plainIdent.MatchString(id) {
			sel = "#" + id
		}
		if doc.Find(sel).Length() == 1 {
			return sel
		}
	}

	var parts []string
	for n := s; n.Length() > 0 && goquery.NodeName(n) != "html"; n = n.Parent() {
		parts = append(parts, fmt.Sprintf("%s:nth-child(%d)", goquery.NodeName(n), n.PrevAll().Length()+1))
	}
	parts = append(parts, "html")
	slices.Reverse(parts)
	return strings.Join(parts, " > ")
}
