// Package browser is the playwright-backed host runtime for cropchat.
//
// It plays the part a browser extension runtime plays for the original
// tool: it owns the browser, exposes its pages as tabs, captures the visible
// viewport of the active tab and injects the selection overlay into pages.
//
// # Architecture
//
// The package is built around four pieces:
//
//  1. Manager: starts Playwright, launches Chromium and tracks open tabs
//  2. Tab: one page, with its viewport screenshot and input primitives
//  3. Overlay: the selection.Overlay drawn into a page with Page.Evaluate
//  4. Host: the session.Host that attaches a selection.Agent to a tab
//
// # Events
//
// Every tab exposes one function to its pages. The injected overlay script
// calls it for mouse, key, cancel, visibility and page-hide events, and the
// tab forwards each call to the selection agent currently bound to it.
// Navigating the main frame unloads the bound agent, just as navigation
// destroys a content script; the next activation attaches a fresh one.
//
// # Capture
//
// Manager implements capture.Capturer over the active tab, so a
// capture.Service registered at bus.Background answers takeScreenshot the
// way the extension's background page does.
package browser
