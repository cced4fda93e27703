// Package image implements the generate_images tool on top of the OpenAI
// images API.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/codingagency/internal/errs"
	"github.com/dotcommander/codingagency/internal/logging"
	"github.com/dotcommander/codingagency/internal/tools"
)

// Name is the tool name exposed to the model.
const Name = "generate_images"

// Defaults.
const (
	DefaultModel       = "gpt-image-1"
	DefaultQuality     = "low"
	DefaultSize        = "1024x1024"
	DefaultConcurrency = 4
)

var qualities = map[string]bool{"low": true, "medium": true, "high": true, "auto": true}

// Request is a single image to generate.
type Request struct {
	Prompt   string `json:"prompt" jsonschema_description:"Detailed description of the image."`
	Filename string `json:"filename,omitempty" jsonschema_description:"File name for the image. Defaults to a random name; '.png' is added when there is no extension."`
	Quality  string `json:"quality,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=auto" jsonschema_description:"Rendering quality. Defaults to low."`
	Size     string `json:"size,omitempty" jsonschema_description:"Image size such as 1024x1024, 1536x1024 or 1024x1536. Defaults to 1024x1024."`
}

// Args are the generate_images arguments.
type Args struct {
	OutputDirectory string    `json:"output_directory" jsonschema_description:"Absolute directory the images are written to."`
	Requests        []Request `json:"requests" jsonschema_description:"Images to generate."`
}

// Generator renders one image and returns the encoded bytes.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// OpenAI generates images through the OpenAI images endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a generator for model. An empty model uses DefaultModel.
func NewOpenAI(model string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Generate implements Generator.
func (g *OpenAI) Generate(ctx context.Context, req Request) ([]byte, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  req.Prompt,
		Model:   openai.ImageModel(g.model),
		N:       openai.Int(1),
		Quality: openai.ImageGenerateParamsQuality(req.Quality),
		Size:    openai.ImageGenerateParamsSize(req.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("generate image: empty response")
	}
	bts, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return bts, nil
}

// Tool generates images concurrently and writes them to disk.
type Tool struct {
	gen         Generator
	concurrency int
	log         logging.Logger
}

// New creates the tool. A concurrency below one uses DefaultConcurrency.
func New(gen Generator, concurrency int, log logging.Logger) *Tool {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Tool{gen: gen, concurrency: concurrency, log: log}
}

// Run generates every request and returns the written paths in request
// order.
func (t *Tool) Run(ctx context.Context, args Args) ([]string, error) {
	if !filepath.IsAbs(args.OutputDirectory) {
		return nil, errs.NewToolError(Name, errs.CodeInvalidArguments, "output_directory must be an absolute path, got %q", args.OutputDirectory)
	}
	if len(args.Requests) == 0 {
		return nil, errs.NewToolError(Name, errs.CodeInvalidArguments, "requests must not be empty")
	}
	reqs := make([]Request, len(args.Requests))
	for i, r := range args.Requests {
		norm, err := normalize(r)
		if err != nil {
			return nil, err
		}
		reqs[i] = norm
	}
	if err := os.MkdirAll(args.OutputDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	paths := make([]string, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, r := range reqs {
		g.Go(func() error {
			bts, err := t.gen.Generate(gctx, r)
			if err != nil {
				return err
			}
			path := filepath.Join(args.OutputDirectory, r.Filename)
			if err := os.WriteFile(path, bts, 0o644); err != nil {
				return fmt.Errorf("write image: %w", err)
			}
			t.log.Debug("image generated", "path", path, "bytes", len(bts), "quality", r.Quality)
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func normalize(r Request) (Request, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return r, errs.NewToolError(Name, errs.CodeInvalidArguments, "prompt must not be empty")
	}
	if r.Quality == "" {
		r.Quality = DefaultQuality
	}
	if !qualities[r.Quality] {
		return r, errs.NewToolError(Name, errs.CodeInvalidArguments, "invalid quality %q", r.Quality)
	}
	if r.Size == "" {
		r.Size = DefaultSize
	}
	if r.Filename == "" {
		r.Filename = "image-" + uuid.NewString()[:8] + ".png"
	}
	if filepath.Base(r.Filename) != r.Filename {
		return r, errs.NewToolError(Name, errs.CodeInvalidArguments, "filename must not contain a directory: %q", r.Filename)
	}
	if filepath.Ext(r.Filename) == "" {
		r.Filename += ".png"
	}
	return r, nil
}

// NewTool exposes t as the generate_images tool.
func NewTool(t *Tool) tools.Tool {
	return tools.New(Name, "Generate one or more images from text prompts and save them as files.",
		func(ctx context.Context, args Args) (string, error) {
			paths, err := t.Run(ctx, args)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Generated %d image(s):", len(paths))
			for _, p := range paths {
				sb.WriteString("\n- " + p)
			}
			return sb.String(), nil
		})
}
