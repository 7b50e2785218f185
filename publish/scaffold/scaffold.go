package scaffold

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/plugin_publish/publish/exec"
	"github.com/byte4ever/plugin_publish/publish/manifest"
)

// ErrExists is returned when the project directory already
// exists.
var ErrExists = errors.New("project directory already exists")

//go:embed templates/*.tmpl
var templates embed.FS

// outputs maps template names to project paths.
var outputs = map[string]string{
	"plugin.json.tmpl": manifest.JSONFile,
	"README.md.tmpl":   "README.md",
	"index.html.tmpl":  "index.html",
	"gitignore.tmpl":   ".gitignore",
}

// Options describes the project to create.
type Options struct {
	// PluginName is the project directory name and plugin
	// identifier.
	PluginName  string
	Name        string
	Description string
	Author      string
	Version     string
	// InitGit runs git init in the new project.
	InitGit bool
}

// Create renders a plugin project into dir/<PluginName>
// and returns the project path. An existing directory is
// never overwritten.
func Create(
	ctx context.Context,
	dir string,
	opts Options,
) (string, error) {
	const errCtx = "creating project"

	if err := manifest.ValidateName(opts.PluginName); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	root := filepath.Join(dir, opts.PluginName)

	if _, err := os.Lstat(root); err == nil {
		return "", fmt.Errorf("%s: %s: %w", errCtx, root, ErrExists)
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	vars := opts.vars()

	for tpl, out := range outputs {
		if err := render(tpl, filepath.Join(root, out), vars); err != nil {
			return "", fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if opts.InitGit {
		if _, err := exec.Ex(ctx, root, "git", "init", "-b", "main"); err != nil {
			return "", fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return root, nil
}

func (o Options) vars() map[string]string {
	vars := map[string]string{
		"plugin":      o.PluginName,
		"name":        o.Name,
		"description": o.Description,
		"author":      o.Author,
		"version":     o.Version,
	}

	if vars["name"] == "" {
		vars["name"] = o.PluginName
	}

	if vars["version"] == "" {
		vars["version"] = "1.0.0"
	}

	return vars
}

// render expands one template. Values written into JSON
// files are escaped as JSON string contents.
func render(
	tplName string,
	outPath string,
	vars map[string]string,
) error {
	content, err := fs.ReadFile(templates, path.Join("templates", tplName))
	if err != nil {
		return fmt.Errorf("read template %s: %w", tplName, err)
	}

	escape := strings.HasSuffix(outPath, ".json")

	tpl, err := fasttemplate.NewTemplate(string(content), "{{", "}}")
	if err != nil {
		return fmt.Errorf("parse template %s: %w", tplName, err)
	}

	out, err := tpl.ExecuteFuncStringWithErr(
		func(w io.Writer, tag string) (int, error) {
			v, ok := vars[tag]
			if !ok {
				return io.WriteString(w, "{{"+tag+"}}")
			}

			if escape {
				return io.WriteString(w, jsonEscape(v))
			}

			return io.WriteString(w, v)
		},
	)
	if err != nil {
		return fmt.Errorf("render %s: %w", tplName, err)
	}

	//nolint:gosec // project files are not secret
	if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	return nil
}

func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}

	return string(b[1 : len(b)-1])
}
