// Package headless runs a crop scenario without the popup.
//
// A scenario is a YAML file naming a page, the area to select on it and the
// questions to ask about the cropped image. The executor drives the same
// session controller the popup uses, ends the selection with real mouse or
// keyboard input in the browser, and records what the controller reports.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│            Headless Executor             │
//	│  - Scenario config (YAML)                │
//	│  - Renderer (console + recorder)         │
//	│  - Artifact generation                   │
//	└──────────────┬───────────────────────────┘
//	               │ RequestTransaction / SendTurn
//	               ▼
//	     ┌──────────────────────┐      ┌──────────────────┐
//	     │  session.Controller  │ ───▶ │ selection.Agent  │
//	     └──────────────────────┘ bus  │ (browser tab)    │
//	                                   └──────────────────┘
//
// Example scenario:
//
//	url: https://example.com
//	viewport: {width: 1280, height: 720}
//	selection: {left: 40, top: 80, width: 600, height: 300}
//	prompt: What does this heading say?
//	follow_ups:
//	  - Translate it to French.
//	timeout: 2m
//	artifacts:
//	  enabled: true
//	  output_dir: out
//	  json: true
//	  markdown: true
//	  image: true
//
// Setting action to escape or cancel_button ends the selection without
// cropping; the run then succeeds only if no reply arrives.
//
// Artifacts:
//
// The artifact writer generates run reports:
// - transcript.json: Full run summary with the dialogue
// - summary.md: Human-readable markdown summary
// - crop.png: The cropped image sent to the chat API
package headless
