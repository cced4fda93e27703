// Package search implements the web_search tool using the hosted web search
// tool of the OpenAI Responses API.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Name is the tool name exposed to the model.
const Name = "web_search"

// DefaultModel answers search queries when none is configured.
const DefaultModel = "gpt-5.1"

// Args are the web_search arguments.
type Args struct {
	Query       string `json:"query" jsonschema_description:"What to search the web for."`
	ContextSize string `json:"context_size,omitempty" jsonschema:"enum=low,enum=medium,enum=high" jsonschema_description:"How much search context to retrieve. Defaults to medium."`
}

// Source is a cited web page.
type Source struct {
	Title string
	URL   string
}

// Answer is the search result.
type Answer struct {
	Text    string
	Sources []Source
}

func (a Answer) String() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(a.Text))
	if len(a.Sources) > 0 {
		sb.WriteString("\n\nSources:")
		for _, s := range a.Sources {
			if s.Title != "" {
				fmt.Fprintf(&sb, "\n- %s: %s", s.Title, s.URL)
				continue
			}
			sb.WriteString("\n- " + s.URL)
		}
	}
	return sb.String()
}

// Searcher runs web searches.
type Searcher struct {
	client openai.Client
	model  string
	log    logging.Logger
}

// New creates a searcher. An empty model uses DefaultModel.
func New(model string, log logging.Logger, opts ...option.RequestOption) *Searcher {
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Searcher{client: openai.NewClient(opts...), model: model, log: log}
}

// Search asks the model to answer query using web search.
func (s *Searcher) Search(ctx context.Context, args Args) (Answer, error) {
	if strings.TrimSpace(args.Query) == "" {
		return Answer{}, errs.NewToolError(Name, errs.CodeInvalidArguments, "query must not be empty")
	}
	switch args.ContextSize {
	case "", "low", "medium", "high":
	default:
		return Answer{}, errs.NewToolError(Name, errs.CodeInvalidArguments, "invalid context_size %q", args.ContextSize)
	}

	resp, err := s.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: shared.ResponsesModel(s.model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(args.Query)},
		Tools: []responses.ToolUnionParam{{
			OfWebSearch: &responses.WebSearchToolParam{
				Type:              responses.WebSearchToolTypeWebSearch,
				SearchContextSize: responses.WebSearchToolSearchContextSize(args.ContextSize),
			},
		}},
	})
	if err != nil {
		return Answer{}, fmt.Errorf("web search: %w", err)
	}

	answer := Answer{Text: resp.OutputText()}
	seen := map[string]bool{}
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.AsMessage().Content {
			if c.Type != "output_text" {
				continue
			}
			for _, a := range c.AsOutputText().Annotations {
				if a.Type != "url_citation" {
					continue
				}
				cite := a.AsURLCitation()
				if cite.URL == "" || seen[cite.URL] {
					continue
				}
				seen[cite.URL] = true
				answer.Sources = append(answer.Sources, Source{Title: cite.Title, URL: cite.URL})
			}
		}
	}
	s.log.Debug("web search", "query", args.Query, "sources", len(answer.Sources))
	return answer, nil
}

// NewTool exposes s as the web_search tool.
func NewTool(s *Searcher) tools.Tool {
	return tools.New(Name, "Search the web for current information and return an answer with cited sources.",
		func(ctx context.Context, args Args) (string, error) {
			answer, err := s.Search(ctx, args)
			if err != nil {
				return "", err
			}
			return answer.String(), nil
		})
}
