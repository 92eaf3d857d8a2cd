package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

//go:embed schema.cue
var schemaCUE string

// Load reads every .cue file under dir, unifies it with the embedded
// pipeline schema, and decodes the result into a Pipeline.
//
// Template declaration order follows the CUE list order, which is what the
// scheduler's deterministic tie-break keys on. All failures are
// configuration errors: the run never starts on a definition that does not
// unify with the schema or whose wiring does not validate.
func Load(dir string) (*Pipeline, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, NewConfigError("pipeline directory not found: %s", dir)
	}
	if err != nil {
		return nil, NewConfigError("accessing pipeline directory %s: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, NewConfigError("not a directory: %s", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, NewConfigError("scanning %s: %v", dir, err)
	}
	if len(files) == 0 {
		return nil, NewConfigError("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling embedded schema: %w", err)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, NewConfigError("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, NewConfigError("loading CUE files: %v", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, NewConfigError("building pipeline definition: %v", err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, NewConfigError("pipeline definition does not satisfy schema: %v", err)
	}

	var decoded struct {
		Templates []TaskTemplate `json:"templates"`
	}
	if err := unified.Decode(&decoded); err != nil {
		return nil, NewConfigError("decoding templates: %v", err)
	}

	p := &Pipeline{Templates: decoded.Templates}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
