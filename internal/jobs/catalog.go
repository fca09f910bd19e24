package jobs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Jenkinsfile is the file a job directory must contain.
const Jenkinsfile = "Jenkinsfile"

var (
	ErrInvalidJob = errors.New("invalid job name")
	ErrNoJob      = errors.New("job not found")
)

// jobExtensions are the extensions of files that are jobs on their own.
var jobExtensions = []string{".groovy", ".jenkinsfile"}

// A Catalog gives access to the jobs defined under a directory. A job is
// either a directory containing a Jenkinsfile or a pipeline file, and is
// named by its slash-separated path relative to the catalog root.
type Catalog struct {
	dir string
}

func NewCatalog(dir string) (*Catalog, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve jobs directory %s: %w", dir, err)
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs directory: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("jobs directory %s is not a directory", absDir)
	}

	return &Catalog{dir: absDir}, nil
}

// Dir returns the absolute path of the catalog root.
func (c *Catalog) Dir() string {
	return c.dir
}

// isJobFile reports whether a regular file holds a job: a Jenkinsfile, a file
// with a job extension or a file without extension.
func isJobFile(name string) bool {
	ext := filepath.Ext(name)

	return name == Jenkinsfile || ext == "" || slices.Contains(jobExtensions, strings.ToLower(ext))
}

// List returns the names of all jobs in the catalog, sorted.
func (c *Catalog) List() ([]string, error) {
	jobs := []string{}

	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p != c.dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !isJobFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(c.dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.Name() == Jenkinsfile {
			// A Jenkinsfile at the root has no name to be invoked by.
			if rel = path.Dir(rel); rel == "." {
				return nil
			}
		}
		jobs = append(jobs, rel)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs in %s: %w", c.dir, err)
	}

	slices.Sort(jobs)
	jobs = slices.Compact(jobs)
	log.Debugf("found %d jobs in %s", len(jobs), c.dir)

	return jobs, nil
}

// Clean validates a job name and returns it in canonical form. It does not
// touch the file system.
func Clean(name string) (string, error) {
	name = filepath.ToSlash(name)
	if name == "" || path.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJob, name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the jobs directory", ErrInvalidJob, name)
	}

	return cleaned, nil
}

// Resolve checks that name refers to a job of the catalog and returns its
// canonical name.
func (c *Catalog) Resolve(name string) (string, error) {
	cleaned, err := Clean(name)
	if err != nil {
		return "", err
	}

	full := filepath.Join(c.dir, filepath.FromSlash(cleaned))
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNoJob, cleaned)
	} else if err != nil {
		return "", fmt.Errorf("failed to resolve job %s: %w", cleaned, err)
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() || !isJobFile(info.Name()) {
			return "", fmt.Errorf("%w: %s is not a job file", ErrNoJob, cleaned)
		}

		return cleaned, nil
	}

	if _, err := os.Stat(filepath.Join(full, Jenkinsfile)); err != nil {
		return "", fmt.Errorf("%w: %s has no %s", ErrNoJob, cleaned, Jenkinsfile)
	}

	return cleaned, nil
}
