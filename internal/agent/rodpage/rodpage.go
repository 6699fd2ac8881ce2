// SPDX-License-Identifier: Apache-2.0

// Package rodpage drives a live browser page through the DevTools protocol
// for the autofill agent.
package rodpage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Page adapts a *rod.Page to agent.Page.
type Page struct {
	page *rod.Page
}

// New wraps p.
func New(p *rod.Page) *Page {
	return &Page{page: p}
}

// Path returns the path of the page's current URL.
func (p *Page) Path(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	u, err := url.Parse(info.URL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	return u.Path, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

// fillJS sets the value through the prototype setter so frameworks that
// track the property see the change, then fires input and change.
const fillJS = `function (value) {
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	this.focus();
	if (desc && desc.set) {
		desc.set.call(this, value);
	} else {
		this.value = value;
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if _, err := el.Eval(fillJS, value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

const indicatorJS = `function (text, ttl) {
	const el = document.createElement('div');
	el.setAttribute('data-login-autofill', '');
	el.setAttribute('role', 'status');
	el.textContent = text;
	el.style.cssText = 'position:fixed;top:12px;right:12px;z-index:2147483647;' +
		'padding:8px 12px;border-radius:4px;background:#1e7e34;color:#fff;' +
		'font:13px sans-serif;box-shadow:0 2px 6px rgba(0,0,0,.3)';
	(document.body || document.documentElement).appendChild(el);
	setTimeout(() => el.remove(), ttl);
}`

func (p *Page) ShowIndicator(ctx context.Context, text string, ttl time.Duration) error {
	if _, err := p.page.Context(ctx).Eval(indicatorJS, text, ttl.Milliseconds()); err != nil {
		return fmt.Errorf("show indicator: %w", err)
	}
	return nil
}

// Click clicks the element with the mouse, falling back to a DOM click when
// the element cannot receive pointer events.
func (p *Page) Click(ctx context.Context, selector string) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	}
	if _, err := el.Eval(`function () { this.click(); }`); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// element looks selector up once instead of polling until it appears.
func (p *Page) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", selector, err)
	}
	return el, nil
}
