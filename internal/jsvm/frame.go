package jsvm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/livetemplate/tinkerpen"
)

// errTimeout is the interrupt value the watchdog uses.
var errTimeout = errors.New("execution timeout exceeded")

// stackOverflowMessage is what browsers report for runaway recursion.
const stackOverflowMessage = "RangeError: Maximum call stack size exceeded"

// frame is one guest browsing context: a goja runtime bound to one parsed
// document. A frame is never reused across runs.
type frame struct {
	vm     *goja.Runtime
	doc    *goquery.Document
	run    tinkerpen.Run
	cfg    Config
	bridge BridgeFunc
	logger *zap.Logger

	elements  map[*html.Node]*goja.Object
	nodes     map[*goja.Object]*html.Node
	listeners map[*html.Node]map[string][]goja.Value
	window    map[string][]goja.Value
	document  map[string][]goja.Value
	docObj    *goja.Object

	timers    map[int64]*timer
	nextTimer int64
	clock     time.Duration

	// halt holds the interrupt value once the runtime has been stopped.
	// A halted frame executes nothing further.
	halt any
}

type timer struct {
	id       int64
	due      time.Duration
	interval time.Duration
	fn       goja.Callable
	code     string
	args     []goja.Value
}

func newFrame(cfg Config, bridge BridgeFunc, run tinkerpen.Run) (*frame, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(run.Document))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &frame{
		vm:        goja.New(),
		doc:       doc,
		run:       run,
		cfg:       cfg,
		bridge:    bridge,
		logger:    logger.With(zap.String("pen", run.Session), zap.Uint64("run", run.Seq)),
		elements:  make(map[*html.Node]*goja.Object),
		nodes:     make(map[*goja.Object]*html.Node),
		listeners: make(map[*html.Node]map[string][]goja.Value),
		window:    make(map[string][]goja.Value),
		document:  make(map[string][]goja.Value),
		timers:    make(map[int64]*timer),
	}
	f.vm.SetMaxCallStackSize(1024)
	f.setupGlobals()
	return f, nil
}

// setupGlobals installs the browser surface on the global object.
func (f *frame) setupGlobals() {
	vm := f.vm
	global := vm.GlobalObject()

	for _, name := range []string{"require", "process", "module", "exports"} {
		vm.Set(name, goja.Undefined())
	}
	for _, name := range []string{"window", "self", "globalThis"} {
		global.Set(name, global)
	}

	parent := vm.NewObject()
	parent.Set("postMessage", f.postMessage)
	global.Set("parent", parent)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, f.devtools(level))
	}
	vm.Set("console", console)

	vm.Set("setTimeout", f.setTimer(false))
	vm.Set("setInterval", f.setTimer(true))
	vm.Set("clearTimeout", f.clearTimer)
	vm.Set("clearInterval", f.clearTimer)
	vm.Set("requestAnimationFrame", func(call goja.FunctionCall) goja.Value {
		return f.addTimer(call.Argument(0), 16*time.Millisecond, false, nil)
	})
	vm.Set("alert", func(call goja.FunctionCall) goja.Value {
		f.logger.Debug("guest alert", zap.String("message", call.Argument(0).String()))
		return goja.Undefined()
	})
	vm.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		f.listen(f.window, call)
		return goja.Undefined()
	})

	f.setupDocument()
}

func (f *frame) setupDocument() {
	vm := f.vm
	document := vm.NewObject()
	f.docObj = document

	document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		match := f.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr("id")
			return v == id
		})
		return f.element(first(match))
	})
	document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return f.element(first(f.doc.Find(call.Argument(0).String())))
	})
	document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return f.elementList(f.doc.Find(call.Argument(0).String()))
	})
	document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return f.element(&html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag})
	})
	document.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		f.listen(f.document, call)
		return goja.Undefined()
	})
	f.accessor(document, "body", func() goja.Value {
		return f.element(first(f.doc.Find("body")))
	}, nil)
	f.accessor(document, "readyState", func() goja.Value {
		return vm.ToValue("complete")
	}, nil)

	vm.Set("document", document)
}

// element returns the proxy for n, creating it on first use so that the
// same node always maps to the same object.
func (f *frame) element(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := f.elements[n]; ok {
		return obj
	}

	vm := f.vm
	sel := goquery.NewDocumentFromNode(n).Selection
	obj := vm.NewObject()
	f.elements[n] = obj
	f.nodes[obj] = n

	f.accessor(obj, "tagName", func() goja.Value {
		return vm.ToValue(strings.ToUpper(n.Data))
	}, nil)
	f.attrAccessor(obj, sel, "id", "id")
	f.attrAccessor(obj, sel, "className", "class")
	f.attrAccessor(obj, sel, "value", "value")

	getText := func() goja.Value { return vm.ToValue(sel.Text()) }
	setText := func(v goja.Value) { sel.SetText(v.String()) }
	f.accessor(obj, "textContent", getText, setText)
	f.accessor(obj, "innerText", getText, setText)
	f.accessor(obj, "innerHTML", func() goja.Value {
		h, _ := sel.Html()
		return vm.ToValue(h)
	}, func(v goja.Value) {
		sel.SetHtml(v.String())
	})
	f.accessor(obj, "parentNode", func() goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return f.element(n.Parent)
	}, nil)

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		if v, ok := sel.Attr(call.Argument(0).String()); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		sel.SetAttr(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		sel.RemoveAttr(call.Argument(0).String())
		return goja.Undefined()
	})
	obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return f.element(first(sel.Find(call.Argument(0).String())))
	})
	obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return f.elementList(sel.Find(call.Argument(0).String()))
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		childObj, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("appendChild: argument is not a node"))
		}
		child, ok := f.nodes[childObj]
		if !ok {
			panic(vm.NewTypeError("appendChild: argument is not a node"))
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return childObj
	})
	obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		if f.listeners[n] == nil {
			f.listeners[n] = make(map[string][]goja.Value)
		}
		f.listen(f.listeners[n], call)
		return goja.Undefined()
	})
	obj.Set("click", func(call goja.FunctionCall) goja.Value {
		f.fire(n, "click")
		return goja.Undefined()
	})

	return obj
}

func (f *frame) elementList(sel *goquery.Selection) goja.Value {
	items := make([]any, 0, sel.Length())
	for _, n := range sel.Nodes {
		items = append(items, f.element(n))
	}
	return f.vm.NewArray(items...)
}

func (f *frame) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := f.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = f.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		f.logger.Debug("failed to define property", zap.String("name", name), zap.Error(err))
	}
}

func (f *frame) attrAccessor(obj *goja.Object, sel *goquery.Selection, prop, attr string) {
	f.accessor(obj, prop, func() goja.Value {
		return f.vm.ToValue(sel.AttrOr(attr, ""))
	}, func(v goja.Value) {
		sel.SetAttr(attr, v.String())
	})
}

func (f *frame) listen(into map[string][]goja.Value, call goja.FunctionCall) {
	event := call.Argument(0).String()
	fn := call.Argument(1)
	if _, ok := goja.AssertFunction(fn); !ok {
		return
	}
	into[event] = append(into[event], fn)
}

// postMessage is window.parent.postMessage. Bridge-shaped payloads are
// handed to the host; anything else is dropped.
func (f *frame) postMessage(call goja.FunctionCall) goja.Value {
	m, ok := call.Argument(0).Export().(map[string]any)
	if !ok {
		f.logger.Debug("dropping non-object message")
		return goja.Undefined()
	}

	msg := tinkerpen.BridgeMessage{
		Type:    stringField(m["type"]),
		Session: stringField(m["session"]),
		Run:     uintField(m["run"]),
		Level:   stringField(m["level"]),
	}
	if args, ok := m["args"].([]any); ok {
		msg.Args = make([]string, 0, len(args))
		for _, a := range args {
			msg.Args = append(msg.Args, fmt.Sprint(a))
		}
	}

	if f.bridge != nil {
		f.bridge(msg)
	}
	return goja.Undefined()
}

// devtools is the frame's native console, the one the shim wraps.
func (f *frame) devtools(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		f.logger.Debug("guest console",
			zap.String("level", level), zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	}
}

func (f *frame) setTimer(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = call.Arguments[2:]
		}
		return f.addTimer(call.Argument(0), delay, repeat, args)
	}
}

func (f *frame) addTimer(callback goja.Value, delay time.Duration, repeat bool, args []goja.Value) goja.Value {
	if delay < 0 {
		delay = 0
	}
	f.nextTimer++
	t := &timer{id: f.nextTimer, due: f.clock + delay, args: args}
	if fn, ok := goja.AssertFunction(callback); ok {
		t.fn = fn
	} else {
		t.code = callback.String()
	}
	if repeat {
		t.interval = max(delay, time.Millisecond)
	}
	f.timers[t.id] = t
	return f.vm.ToValue(t.id)
}

func (f *frame) clearTimer(call goja.FunctionCall) goja.Value {
	delete(f.timers, call.Argument(0).ToInteger())
	return goja.Undefined()
}

// load executes the document: scripts in order, then the load events,
// then the timer queue.
func (f *frame) load() {
	f.doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if f.halted() {
			return
		}
		if _, external := s.Attr("src"); external {
			f.logger.Debug("skipping external script")
			return
		}
		if typ, ok := s.Attr("type"); ok && !isScriptType(typ) {
			return
		}
		if _, err := f.vm.RunScript(fmt.Sprintf("script-%d.js", i), s.Text()); err != nil {
			f.uncaught(err)
		}
	})

	f.fireGlobal(f.document, f.docObj, "DOMContentLoaded")
	f.fireGlobal(f.window, f.vm.GlobalObject(), "load")
	f.drainTimers()
}

func isScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}

// fire dispatches event on n: the on<event> property or inline attribute
// first, then listeners in registration order.
func (f *frame) fire(n *html.Node, event string) {
	obj := f.element(n).(*goja.Object)
	ev := f.newEvent(event, obj)

	if h := obj.Get("on" + event); h != nil && !goja.IsUndefined(h) && !goja.IsNull(h) {
		if fn, ok := goja.AssertFunction(h); ok {
			f.invoke(fn, obj, ev)
		}
	} else if code, ok := attr(n, "on"+event); ok {
		fn, err := f.inlineHandler(code)
		if err != nil {
			f.uncaught(err)
		} else {
			f.invoke(fn, obj, ev)
		}
	}

	for _, l := range f.listeners[n][event] {
		if fn, ok := goja.AssertFunction(l); ok {
			f.invoke(fn, obj, ev)
		}
	}
}

func (f *frame) fireGlobal(listeners map[string][]goja.Value, target *goja.Object, event string) {
	ev := f.newEvent(event, target)
	if h := target.Get("on" + strings.ToLower(event)); h != nil {
		if fn, ok := goja.AssertFunction(h); ok {
			f.invoke(fn, target, ev)
		}
	}
	for _, l := range listeners[event] {
		if fn, ok := goja.AssertFunction(l); ok {
			f.invoke(fn, target, ev)
		}
	}
}

// inlineHandler compiles an on<event> attribute in the global scope, the
// way a browser resolves names used in inline handlers.
func (f *frame) inlineHandler(code string) (goja.Callable, error) {
	v, err := f.vm.RunString("(function (event) {\n" + code + "\n})")
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("inline handler is not callable")
	}
	return fn, nil
}

func (f *frame) newEvent(typ string, target *goja.Object) *goja.Object {
	ev := f.vm.NewObject()
	ev.Set("type", typ)
	ev.Set("target", target)
	ev.Set("currentTarget", target)
	ev.Set("preventDefault", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	ev.Set("stopPropagation", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return ev
}

func (f *frame) invoke(fn goja.Callable, this goja.Value, args ...goja.Value) {
	if f.halted() {
		return
	}
	if _, err := fn(this, args...); err != nil {
		f.uncaught(err)
	}
}

// uncaught handles an error that escaped guest code. Interrupts halt the
// frame; everything else becomes an error event on window, which is where
// the console shim picks it up.
func (f *frame) uncaught(err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		f.halt = interrupted.Value()
		return
	}

	var message string
	var errValue goja.Value = goja.Undefined()
	var ex *goja.Exception
	var overflow *goja.StackOverflowError
	switch {
	case errors.As(err, &overflow):
		// uncatchable in goja, so the guest's try/catch never sees it
		message = stackOverflowMessage
		errValue = f.vm.ToValue(stackOverflowMessage)
	case errors.As(err, &ex):
		message = "Uncaught " + err.Error()
		errValue = ex.Value()
		if errValue != nil {
			message = "Uncaught " + errValue.String()
		}
	default:
		message = "Uncaught " + err.Error()
	}
	f.logger.Debug("uncaught guest error", zap.String("message", message))

	global := f.vm.GlobalObject()
	ev := f.newEvent("error", global)
	ev.Set("message", message)
	ev.Set("error", errValue)

	handlers := append([]goja.Value(nil), f.window["error"]...)
	if h := global.Get("onerror"); h != nil {
		handlers = append(handlers, h)
	}
	for _, h := range handlers {
		fn, ok := goja.AssertFunction(h)
		if !ok {
			continue
		}
		// errors raised by error handlers are not re-reported
		if _, err := fn(global, ev); err != nil {
			if errors.As(err, &interrupted) {
				f.halt = interrupted.Value()
				return
			}
			f.logger.Debug("error handler failed", zap.Error(err))
		}
	}
}

// drainTimers fires due timers on a virtual clock until the queue is
// empty or MaxTimers callbacks have run.
func (f *frame) drainTimers() {
	for fired := 0; fired < f.cfg.MaxTimers; fired++ {
		if f.halted() {
			return
		}
		t := f.nextDue()
		if t == nil {
			return
		}
		f.clock = t.due
		if t.interval > 0 {
			t.due += t.interval
		} else {
			delete(f.timers, t.id)
		}

		if t.fn != nil {
			f.invoke(t.fn, goja.Undefined(), t.args...)
		} else if _, err := f.vm.RunString(t.code); err != nil {
			f.uncaught(err)
		}
	}
	if len(f.timers) > 0 {
		f.logger.Debug("timer budget exhausted", zap.Int("pending", len(f.timers)))
	}
}

func (f *frame) nextDue() *timer {
	var next *timer
	for _, t := range f.timers {
		if next == nil || t.due < next.due || (t.due == next.due && t.id < next.id) {
			next = t
		}
	}
	return next
}

func (f *frame) halted() bool {
	return f.halt != nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func stringField(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func uintField(v any) uint64 {
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return uint64(n)
		}
	case float64:
		if n > 0 {
			return uint64(n)
		}
	case int:
		if n > 0 {
			return uint64(n)
		}
	}
	return 0
}

func first(sel *goquery.Selection) *html.Node {
	if sel.Length() == 0 {
		return nil
	}
	return sel.Nodes[0]
}
