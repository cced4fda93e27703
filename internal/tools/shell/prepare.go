package shell

import (
	"regexp"
	"strings"
)

var (
	yesFlagPatterns = compileAll(
		`\bnpm\s+init\b`,
		`\bnpm\s+create\b`,
		`\bnpx\s+[^ ]*create`,
		`\byarn\s+create\b`,
		`\bpnpm\s+create\b`,
	)
	autoConfirmPatterns = compileAll(
		`\bpython\s+manage\.py\s+migrate\b`,
		`\bpython\s+manage\.py\s+makemigrations\b`,
		`\bdjango-admin\s+migrate\b`,
		`\bdjango-admin\s+makemigrations\b`,
		`\bnpx\s+expo\b`,
		`\bexpo\s+(init|start)\b`,
		`\bpnpm\s+dlx\s+[^ ]*create\b`,
		`\bnpx\s+[^ ]*create-[^ ]+\b`,
	)
	viteCreatePatterns = compileAll(
		`\bnpm\s+create\s+vite(@latest)?\b`,
		`\bnpx\s+create-vite\b`,
		`\bpnpm\s+create\s+vite(@latest)?\b`,
	)
	devServerPatterns = compileAll(
		`\bnpm\s+run\s+(dev|start|preview|serve|storybook)\b`,
		`\bnpm\s+run\s+.*(--watch|--serve)\b`,
		`\bnpx\s+next\s+dev\b`,
		`\bnext\s+dev\b`,
		`\bvite\s+dev\b`,
		`\bnpx\s+vite\s+dev\b`,
		`\bpnpm\s+(dev|preview|start|serve)\b`,
		`\byarn\s+(dev|start|preview|serve|storybook)\b`,
		`\bnpx\s+astro\s+dev\b`,
		`\bnpx\s+remix\s+dev\b`,
		`\bnpx\s+expo\b`,
		`\bexpo\s+start\b`,
		`\buvicorn\b.+(--reload|--workers)`,
		`\bflask\s+run\b`,
		`\bdjango-admin\s+runserver\b`,
		`\bpython\s+-m\s+http\.server\b`,
		`\bnuxi\s+dev\b`,
		`\bnpx\s+nuxt\s+dev\b`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Prepare rewrites a command so scaffolding tools never stop to ask
// questions, and so backgrounded dev servers detach from the shell.
// Commands are only rewritten when non-interactive mode is on.
func (e *Executor) Prepare(command string) string {
	prepared := strings.TrimSpace(command)
	if !e.opts.ForceNonInteractive {
		return prepared
	}
	lower := strings.ToLower(prepared)

	if !hasYesFlag(lower) && matchAny(yesFlagPatterns, lower) {
		prepared = appendFlag(prepared, "--yes")
		lower = strings.ToLower(prepared)
	}

	if strings.Contains(lower, "create-next-app") &&
		!strings.Contains(lower, "--use-react-compiler") &&
		!strings.Contains(lower, "--no-use-react-compiler") {
		flag := "--no-use-react-compiler"
		if e.opts.ReactCompiler == "use" {
			flag = "--use-react-compiler"
		}
		prepared = appendFlag(prepared, flag)
	}

	prepared = autoConfirm(prepared, lower)
	lower = strings.ToLower(prepared)
	if matchAny(viteCreatePatterns, lower) {
		prepared = ensureSubcommandFlag(prepared, "--no-rolldown")
		prepared = ensureSubcommandFlag(prepared, "--no-interactive")
	}

	if RequiresBackground(prepared) && IsBackgrounded(prepared) {
		prepared = wrapBackground(prepared)
	}
	return prepared
}

// RequiresBackground reports whether command starts a dev server or watcher
// that never exits on its own.
func RequiresBackground(command string) bool {
	return matchAny(devServerPatterns, strings.ToLower(strings.TrimSpace(command)))
}

// IsBackgrounded reports whether command already sends its job to the
// background.
func IsBackgrounded(command string) bool {
	stripped := strings.TrimRight(command, " \t\r\n")
	if strings.HasSuffix(stripped, "&") {
		return true
	}
	if hasInlineBackgroundOperator(stripped) {
		return true
	}
	return strings.Contains(stripped, "nohup ") && strings.Contains(stripped, "&")
}

// hasInlineBackgroundOperator finds a standalone "&" that is neither part of
// "&&" nor a redirection such as ">&" or "&>".
func hasInlineBackgroundOperator(command string) bool {
	for i := 0; i < len(command); i++ {
		if command[i] != '&' {
			continue
		}
		var prev, next byte
		if i > 0 {
			prev = command[i-1]
		}
		if i+1 < len(command) {
			next = command[i+1]
		}
		if prev == '&' || prev == '>' || next == '>' {
			continue
		}
		if isSpace(prev) && (next == 0 || isSpace(next)) {
			return true
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func hasYesFlag(lower string) bool {
	return strings.Contains(lower, " --yes") || strings.Contains(lower, " -y")
}

func autoConfirm(command, lower string) string {
	if strings.HasPrefix(strings.TrimLeft(command, " \t"), "yes |") {
		return command
	}
	if matchAny(autoConfirmPatterns, lower) {
		return "yes | " + command
	}
	return command
}

// splitBackgroundSuffix separates a trailing "&" so flags can be inserted
// before it.
func splitBackgroundSuffix(command string) (string, string) {
	stripped := strings.TrimRight(command, " \t\r\n")
	if base, ok := strings.CutSuffix(stripped, "&"); ok {
		return strings.TrimRight(base, " \t\r\n"), " &"
	}
	return command, ""
}

// appendFlag adds flag to the command, before the first " -- " when the
// command forwards arguments to a subcommand.
func appendFlag(command, flag string) string {
	base, background := splitBackgroundSuffix(command)
	if strings.Contains(base, " -- ") {
		base = strings.Replace(base, " -- ", " "+flag+" -- ", 1)
	} else {
		base = strings.TrimSpace(base + " " + flag)
	}
	return base + background
}

func flagPresent(lower, flag string) bool {
	base, _ := splitBackgroundSuffix(lower)
	re := regexp.MustCompile(`(?:^|\s)` + regexp.QuoteMeta(flag) + `(?:\s|$)`)
	return re.MatchString(base)
}

func ensureFlag(command, flag string) string {
	if flagPresent(strings.ToLower(command), flag) {
		return command
	}
	return appendFlag(command, flag)
}

// ensureSubcommandFlag makes sure flag is passed to the subcommand, i.e.
// after the first " -- ". The flag is prepended to the forwarded arguments.
func ensureSubcommandFlag(command, flag string) string {
	base, background := splitBackgroundSuffix(command)
	prefix, suffix, ok := strings.Cut(base, " -- ")
	if !ok {
		return ensureFlag(base, flag) + background
	}
	if flagPresent(strings.ToLower(suffix), flag) {
		return command
	}
	return prefix + " -- " + strings.TrimLeft(flag+" "+suffix, " \t") + background
}

const detachPrefix = "(trap '' HUP; setsid sh -c "

// isDetachedWrapper reports whether command was produced by wrapBackground.
func isDetachedWrapper(command string) bool {
	return strings.Contains(command, detachPrefix)
}

// wrapBackground detaches the last "&&" segment if it is backgrounded, so
// "sh -c" returns right away instead of waiting on the job.
func wrapBackground(command string) string {
	parts := strings.Split(command, "&&")
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		stripped := strings.TrimSpace(part)
		if i == len(parts)-1 && IsBackgrounded(stripped) {
			body := strings.TrimRight(stripped, " \t\r\n")
			if b, ok := strings.CutSuffix(body, "&"); ok {
				body = strings.TrimRight(b, " \t\r\n")
			}
			out = append(out, detachPrefix+Quote(body)+" >/dev/null 2>&1 &) && echo $!")
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, " && ")
}
