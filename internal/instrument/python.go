package instrument

import (
	"encoding/json"
	"strings"
)

// Python line tracking uses the runtime's trace hook rather than textual
// rewriting: the wrapper compiles the submitted source under a known
// filename and installs a trace function that prints an active-line marker
// for every line event in that file before the line runs. This reports the
// line per execution, not per source position, so a single-line loop emits
// one marker per iteration, and it cannot corrupt partial or malformed code
// the way textual insertion could.

// pythonFilename is the compile filename the trace hook filters on.
const pythonFilename = "<session>"

// WrapPython builds the stdin payload for one Python execution: a single
// line that compiles and runs the code with the trace hook installed, prints
// the error sentinel (after the traceback) on an uncaught exception, and
// always prints the completion sentinel. Collapsing to one physical line
// keeps the interactive interpreter from entering continuation mode.
func WrapPython(code string, m Markers) string {
	src, _ := json.Marshal(code)

	var b strings.Builder
	b.WriteString("import sys, traceback\n")
	b.WriteString("__ip_code = compile(" + string(src) + ", " + pyStr(pythonFilename) + ", 'exec')\n")
	b.WriteString("def __ip_trace(frame, event, arg):\n")
	b.WriteString("    if event == 'line' and frame.f_code.co_filename == " + pyStr(pythonFilename) + ":\n")
	b.WriteString("        print('##ACTIVE_LINE:%d:" + m.token + "##' % frame.f_lineno, flush=True)\n")
	b.WriteString("    return __ip_trace\n")
	b.WriteString("sys.settrace(__ip_trace)\n")
	b.WriteString("try:\n")
	b.WriteString("    exec(__ip_code, globals())\n")
	b.WriteString("except BaseException:\n")
	b.WriteString("    sys.settrace(None)\n")
	b.WriteString("    traceback.print_exc()\n")
	b.WriteString("    print(" + pyStr(m.Error()) + ", flush=True)\n")
	b.WriteString("finally:\n")
	b.WriteString("    sys.settrace(None)\n")
	b.WriteString("print(" + pyStr(m.End()) + ", flush=True)\n")

	// The wrapper itself is multi-line; feed it to the REPL as one exec line.
	wrapper, _ := json.Marshal(b.String())
	return "exec(compile(" + string(wrapper) + ", '<wrapper>', 'exec'))\n"
}

// KernelPython builds the code submitted over the kernel protocol: the trace
// hook is still installed for active-line markers, but end-of-execution and
// errors come from kernel messages, so no sentinels are appended.
func KernelPython(code string, m Markers) string {
	src, _ := json.Marshal(code)

	var b strings.Builder
	b.WriteString("import sys\n")
	b.WriteString("__ip_code = compile(" + string(src) + ", " + pyStr(pythonFilename) + ", 'exec')\n")
	b.WriteString("def __ip_trace(frame, event, arg):\n")
	b.WriteString("    if event == 'line' and frame.f_code.co_filename == " + pyStr(pythonFilename) + ":\n")
	b.WriteString("        print('##ACTIVE_LINE:%d:" + m.token + "##' % frame.f_lineno, flush=True)\n")
	b.WriteString("    return __ip_trace\n")
	b.WriteString("sys.settrace(__ip_trace)\n")
	b.WriteString("try:\n")
	b.WriteString("    exec(__ip_code, globals())\n")
	b.WriteString("finally:\n")
	b.WriteString("    sys.settrace(None)\n")
	return b.String()
}

// pyStr renders s as a Python string literal. JSON string escaping is a
// strict subset of Python's, so the encoding is reused.
func pyStr(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
