package controlplane

import (
	"fmt"
	"strings"

	"github.com/fentz26/tesd/internal/models"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// normalizeTask validates a submitted task and returns the copy that will be
// stored. Server-assigned fields are dropped, empty parameter types become
// FILE and the url of an input with inline contents is cleared.
func normalizeTask(in *models.Task) (*models.Task, error) {
	if in == nil {
		return nil, invalid("task is required")
	}
	t := in.Clone()
	t.ID = ""
	t.State = ""
	t.Logs = nil
	t.CreationTime = ""

	if len(t.Executors) == 0 {
		return nil, invalid("at least one executor is required")
	}
	for i, ex := range t.Executors {
		if strings.TrimSpace(ex.Image) == "" {
			return nil, invalid("executors[%d]: image is required", i)
		}
		if len(ex.Command) == 0 {
			return nil, invalid("executors[%d]: command is required", i)
		}
		for _, p := range [][2]string{{"workdir", ex.Workdir}, {"stdin", ex.Stdin}, {"stdout", ex.Stdout}, {"stderr", ex.Stderr}} {
			if p[1] != "" && !strings.HasPrefix(p[1], "/") {
				return nil, invalid("executors[%d]: %s must be an absolute path", i, p[0])
			}
		}
		for j, p := range ex.Ports {
			if p.Container <= 0 || p.Container > 65535 || p.Host < 0 || p.Host > 65535 {
				return nil, invalid("executors[%d].ports[%d]: invalid port binding", i, j)
			}
		}
	}

	for i := range t.Inputs {
		in := &t.Inputs[i]
		if err := normalizeType(in); err != nil {
			return nil, invalid("inputs[%d]: %v", i, err)
		}
		if !strings.HasPrefix(in.Path, "/") {
			return nil, invalid("inputs[%d]: path must be absolute", i)
		}
		if in.Contents != "" {
			if in.Type != models.FileTypeFile {
				return nil, invalid("inputs[%d]: contents are only allowed for FILE inputs", i)
			}
			in.URL = ""
			continue
		}
		if in.URL == "" {
			return nil, invalid("inputs[%d]: url or contents is required", i)
		}
	}

	for i := range t.Outputs {
		out := &t.Outputs[i]
		if err := normalizeType(out); err != nil {
			return nil, invalid("outputs[%d]: %v", i, err)
		}
		if out.URL == "" {
			return nil, invalid("outputs[%d]: url is required", i)
		}
		if !strings.HasPrefix(out.Path, "/") {
			return nil, invalid("outputs[%d]: path must be absolute", i)
		}
		out.Contents = ""
	}

	for i, v := range t.Volumes {
		if !strings.HasPrefix(v, "/") {
			return nil, invalid("volumes[%d]: path must be absolute", i)
		}
	}
	return t, nil
}

func normalizeType(p *models.TaskParameter) error {
	switch p.Type {
	case "":
		p.Type = models.FileTypeFile
	case models.FileTypeFile, models.FileTypeDirectory:
	default:
		return fmt.Errorf("unknown type %q", p.Type)
	}
	return nil
}
