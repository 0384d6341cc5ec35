/*
Package jsvm runs assembled pen documents without a browser.

Each Load builds a fresh goja runtime, so every run gets its own global
object and nothing a guest assigns to window survives into the next run or
leaks into the host. The document body is parsed with goquery; script
blocks execute in document order, then DOMContentLoaded and load
listeners fire, then pending timers drain on a virtual clock.

The guest sees a small browser surface:

  - window, self and globalThis alias the global object
  - window.parent.postMessage delivers bridge messages to the host
  - console.log/warn/error/info (the frame's own console, before the shim)
  - document.getElementById, querySelector, querySelectorAll, createElement, body
  - elements with id, className, textContent, innerHTML, value,
    getAttribute, setAttribute, addEventListener, appendChild, click
  - setTimeout, setInterval, clearTimeout, clearInterval, alert

Inline handler attributes (onclick="greet()") are evaluated in the global
scope by Dispatch, which is how tests exercise globalized declarations.

Every Load and Dispatch is bounded by Config.Timeout. When the budget runs
out the runtime is interrupted and an error entry is posted through the
bridge, so a guest infinite loop cannot wedge the host.
*/
package jsvm
