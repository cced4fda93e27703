package shell

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func nonInteractive(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(Options{Dir: t.TempDir(), ForceNonInteractive: true})
}

func TestPrepare(t *testing.T) {
	t.Run("auto confirms django migrate", func(t *testing.T) {
		prepared := nonInteractive(t).Prepare("python manage.py migrate")
		require.True(t, strings.HasPrefix(prepared, "yes | "))
	})

	t.Run("does not double the yes pipe", func(t *testing.T) {
		prepared := nonInteractive(t).Prepare("yes | python manage.py makemigrations")
		require.Equal(t, "yes | python manage.py makemigrations", prepared)
	})

	t.Run("disables vite prompts", func(t *testing.T) {
		prepared := nonInteractive(t).Prepare("npm create vite@latest portfolio -- --template react-swc-ts")
		require.Contains(t, prepared, "--no-interactive")
		require.Contains(t, prepared, "--no-rolldown")
		require.Less(t, strings.Index(prepared, "--yes"), strings.Index(prepared, "--template"))

		_, args, ok := strings.Cut(prepared, " -- ")
		require.True(t, ok)
		require.True(t, strings.HasPrefix(args, "--no-interactive"))
		require.Contains(t, strings.Fields(args), "--no-rolldown")
		require.Equal(t,
			"npm create vite@latest portfolio --yes -- --no-interactive --no-rolldown --template react-swc-ts",
			prepared,
		)
	})

	t.Run("keeps background suffix when appending flags", func(t *testing.T) {
		prepared := nonInteractive(t).Prepare("npm create vite@latest portfolio &")
		require.True(t, strings.HasSuffix(prepared, " &"))
		require.Contains(t, prepared, "--no-interactive")
		require.Contains(t, prepared, "--no-rolldown")
		require.Equal(t, "npm create vite@latest portfolio --yes --no-rolldown --no-interactive &", prepared)
	})

	t.Run("existing yes flag is kept", func(t *testing.T) {
		require.Equal(t, "npm init -y", nonInteractive(t).Prepare("npm init -y"))
	})

	t.Run("react compiler preference", func(t *testing.T) {
		no := nonInteractive(t).Prepare("npx create-next-app@latest web")
		require.Contains(t, no, "--no-use-react-compiler")
		require.Contains(t, no, "--yes")

		use := NewExecutor(Options{ForceNonInteractive: true, ReactCompiler: "use"}).
			Prepare("npx create-next-app@latest web --use-react-compiler")
		require.Equal(t, 1, strings.Count(use, "react-compiler"))
	})

	t.Run("interactive mode leaves commands alone", func(t *testing.T) {
		e := NewExecutor(Options{Dir: t.TempDir()})
		require.Equal(t, "npm init", e.Prepare("  npm init  "))
	})

	t.Run("backgrounded dev server is wrapped", func(t *testing.T) {
		prepared := nonInteractive(t).Prepare("cd app && npm run dev &")
		require.Equal(t,
			"cd app  && (trap '' HUP; setsid sh -c 'npm run dev' >/dev/null 2>&1 &) && echo $!",
			prepared,
		)
	})
}

func TestIsBackgrounded(t *testing.T) {
	for name, tc := range map[string]struct {
		command string
		want    bool
	}{
		"trailing":     {"npm run dev &", true},
		"inline":       {"cd portfolio && npm run dev -- --host 0.0.0.0 --port 4173 >/tmp/portfolio-dev.log 2>&1 & echo $!", true},
		"nohup":        {"nohup npm start > out.log 2>&1&echo", true},
		"and only":     {"npm install && npm test", false},
		"redirect":     {"npm test >& out.log", false},
		"redirect amp": {"npm test &> out.log", false},
		"foreground":   {"npm run dev", false},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, IsBackgrounded(tc.command))
		})
	}
}

func TestRequiresBackground(t *testing.T) {
	for _, cmd := range []string{
		"npm run dev",
		"NPM RUN START",
		"npm run build -- --watch",
		"npx next dev",
		"pnpm preview",
		"yarn storybook",
		"uvicorn app:app --reload",
		"flask run",
		"python -m http.server 8000",
		"npx nuxt dev",
	} {
		require.True(t, RequiresBackground(cmd), cmd)
	}
	for _, cmd := range []string{"npm run build", "npm test", "uvicorn app:app", "ls -la"} {
		require.False(t, RequiresBackground(cmd), cmd)
	}
}

func TestQuote(t *testing.T) {
	require.Equal(t, "''", Quote(""))
	require.Equal(t, "plain/path-1.0", Quote("plain/path-1.0"))
	require.Equal(t, "'npm run dev'", Quote("npm run dev"))
	require.Equal(t, `'it'"'"'s'`, Quote("it's"))
}
