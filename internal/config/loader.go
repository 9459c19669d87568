package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/pipewright/internal/ctxlog"
)

// Load reads every pipeline file reachable from the given paths (files are
// taken as-is, directories are searched recursively for .hcl files), parses
// them, and merges them into a single Document.
//
// Duplicate job or template names across files are a ConfigError, as is a
// stage list defined in more than one file. Global variables merge with
// later files overriding earlier ones.
func Load(ctx context.Context, paths ...string) (*Document, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := collectFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pipeline files found in %s", strings.Join(paths, ", "))
	}
	logger.Debug("Discovered pipeline files.", "count", len(files))

	doc := &Document{
		Variables: make(map[string]string),
		Jobs:      make(map[string]*Job),
		Templates: make(map[string]*Job),
	}

	parser := hclparse.NewParser()
	stagesFrom := ""
	for _, filename := range files {
		src, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filename, err)
		}
		file, diags := parser.ParseHCL(src, filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", filename, diags)
		}

		var fileDoc documentSchema
		if diags := gohcl.DecodeBody(file.Body, nil, &fileDoc); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", filename, diags)
		}

		if err := mergeFile(doc, &fileDoc, filename, &stagesFrom); err != nil {
			return nil, err
		}
		logger.Debug("Pipeline file merged.", "file", filename,
			"jobs", len(fileDoc.Jobs), "templates", len(fileDoc.Templates))
	}

	return doc, nil
}

// collectFiles expands each path into the set of pipeline files beneath it.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("locating pipeline path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	return files, nil
}

func mergeFile(doc *Document, fileDoc *documentSchema, filename string, stagesFrom *string) error {
	if len(fileDoc.Stages) > 0 {
		if *stagesFrom != "" {
			return errf("", "stages", "stage list defined in both %s and %s", *stagesFrom, filename)
		}
		doc.Stages = fileDoc.Stages
		*stagesFrom = filename
	}

	for k, v := range fileDoc.Variables {
		doc.Variables[k] = v
	}

	if fileDoc.Workflow != nil {
		if doc.Workflow != nil {
			return errf("", "workflow", "workflow block defined more than once (last in %s)", filename)
		}
		for _, r := range fileDoc.Workflow.Rules {
			doc.Workflow = append(doc.Workflow, translateRule(r))
		}
	}

	for _, ts := range fileDoc.Templates {
		if _, dup := doc.Templates[ts.Name]; dup {
			return errf(ts.Name, "", "duplicate template name (redefined in %s)", filename)
		}
		t, err := translateJob(ts)
		if err != nil {
			return err
		}
		doc.Templates[ts.Name] = t
	}

	for _, js := range fileDoc.Jobs {
		if _, dup := doc.Jobs[js.Name]; dup {
			return errf(js.Name, "", "duplicate job name (redefined in %s)", filename)
		}
		j, err := translateJob(js)
		if err != nil {
			return err
		}
		doc.Jobs[j.Name] = j
	}

	return nil
}
