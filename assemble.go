package tinkerpen

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultBridgeName is the message type the console shim posts under.
const DefaultBridgeName = "tinkerpen:console"

// bridgeGuard is the sandbox-global flag that keeps the console shim from
// patching the same frame twice.
const bridgeGuard = "__tinkerpenBridged"

// BridgeConfig addresses console messages from one run of one pen.
type BridgeConfig struct {
	Name    string // message type; DefaultBridgeName when empty
	Session string // pen instance id
	Run     uint64 // run sequence number
}

// BridgeMessage is the payload the console shim posts to the parent frame.
type BridgeMessage struct {
	Type    string   `json:"type"`
	Session string   `json:"session"`
	Run     uint64   `json:"run"`
	Level   string   `json:"level"`
	Args    []string `json:"args"`
}

// Assemble builds the complete guest document for one run.
//
// The result is plain concatenation: html, css and js are inserted
// verbatim, without escaping or sanitization. Guest and host are trusted
// not to attack each other; the goal is preview fidelity.
func Assemble(src Sources, bridge BridgeConfig) string {
	var b strings.Builder
	b.Grow(len(src.HTML) + len(src.CSS) + len(src.JS) + 1024)

	b.WriteString("<!DOCTYPE html><html><head><style>")
	b.WriteString(src.CSS)
	b.WriteString("</style></head><body>")
	b.WriteString(src.HTML)

	b.WriteString("<script>")
	b.WriteString(ConsoleShim(bridge))
	b.WriteString("</script>")

	b.WriteString("<script>\ntry {\n")
	b.WriteString(Globalize(src.JS))
	b.WriteString("\n} catch (err) {\n  console.error(err);\n}\n</script>")

	b.WriteString("</body></html>")
	return b.String()
}

// ConsoleShim returns the script that routes console.log/warn/error to the
// parent frame. It must run before any guest code.
func ConsoleShim(bridge BridgeConfig) string {
	name := bridge.Name
	if name == "" {
		name = DefaultBridgeName
	}

	var b strings.Builder
	b.WriteString("(function () {\n")
	b.WriteString("  if (window." + bridgeGuard + ") return;\n")
	b.WriteString("  window." + bridgeGuard + " = true;\n")
	b.WriteString("  var channel = {type: " + jsString(name) +
		", session: " + jsString(bridge.Session) +
		", run: " + strconv.FormatUint(bridge.Run, 10) + "};\n")
	b.WriteString(`  function send(level, args) {
    try {
      var text = [];
      for (var i = 0; i < args.length; i++) { text.push(String(args[i])); }
      window.parent.postMessage({type: channel.type, session: channel.session, run: channel.run, level: level, args: text}, "*");
    } catch (e) {}
  }
  ["log", "warn", "error"].forEach(function (level) {
    var original = console[level];
    console[level] = function () {
      send(level, Array.prototype.slice.call(arguments));
      if (original) { original.apply(console, arguments); }
    };
  });
  if (window.addEventListener) {
    window.addEventListener("error", function (e) {
      send("error", [e && e.message ? e.message : String(e)]);
    });
  }
})();`)
	return b.String()
}

// jsString renders s as a JavaScript string literal that is safe inside a
// <script> element.
func jsString(s string) string {
	out, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(out)
}
