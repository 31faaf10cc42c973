package command

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// shellWords are builtins and keywords that never need a PATH lookup.
var shellWords = map[string]bool{
	"!": true, ".": true, ":": true, "[": true, "{": true, "(": true,
	"alias": true, "break": true, "case": true, "cd": true, "command": true,
	"continue": true, "echo": true, "eval": true, "exec": true, "exit": true,
	"export": true, "false": true, "for": true, "if": true, "printf": true,
	"pwd": true, "read": true, "set": true, "source": true, "test": true,
	"time": true, "trap": true, "true": true, "type": true, "ulimit": true,
	"umask": true, "unset": true, "until": true, "wait": true, "while": true,
}

// Resolvable reports whether the program a shell command line starts with
// can be found, resolving relative paths against dir. When the line is too
// dynamic to judge (environment assignments, quoting, expansions, subshells)
// it reports true: only a plainly missing program counts as unresolvable.
func Resolvable(dir, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	name := fields[0]
	if isAssignment(name) || strings.ContainsAny(name, "\"'`$(){}<>|;&*?~\\") {
		return true
	}
	if shellWords[name] {
		return true
	}
	if strings.Contains(name, "/") {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
	}
	_, err := exec.LookPath(name)
	return err == nil
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for i, r := range word[:eq] {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
