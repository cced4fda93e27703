package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/codingagency/internal/config"
)

func TestBuildManPage(t *testing.T) {
	page, err := buildManPage(NewRootCmd(BuildInfo{}, config.Default(), nil))
	require.NoError(t, err)
	lower := strings.ToLower(page)
	require.Contains(t, lower, "environment")
	require.Contains(t, lower, "files")
	require.Contains(t, page, "CODING_AGENT_SHELL_TIMEOUT_SECONDS")
	require.Contains(t, page, "OPENAI_API_KEY")
	require.Contains(t, page, "codingagency.yml")
	require.Contains(t, page, "workspace")
}
