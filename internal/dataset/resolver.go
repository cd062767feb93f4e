package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"bnn-backend/internal/descriptor"
)

// PathResolver maps a decoded descriptor to the filesystem location of one
// input table. The naming conventions live outside the engine; the resolver
// only passes the decoded fields through and fails loudly when no mapping
// exists.
type PathResolver interface {
	Resolve(d descriptor.Descriptor) (string, error)
}

// Resolver pairs the two external path collaborators and verifies that both
// resolved files exist before any training starts.
type Resolver struct {
	Latent PathResolver
	Target PathResolver
}

func (r *Resolver) Resolve(d descriptor.Descriptor) (latentPath, targetPath string, err error) {
	latentPath, err = r.Latent.Resolve(d)
	if err != nil {
		return "", "", fmt.Errorf("%w: latent table: %v", ErrDatasetNotFound, err)
	}
	targetPath, err = r.Target.Resolve(d)
	if err != nil {
		return "", "", fmt.Errorf("%w: target table: %v", ErrDatasetNotFound, err)
	}

	for _, path := range []string{latentPath, targetPath} {
		if _, statErr := os.Stat(path); statErr != nil {
			return "", "", fmt.Errorf("%w: %s: %v", ErrDatasetNotFound, path, statErr)
		}
	}

	return latentPath, targetPath, nil
}

// ConventionResolver implements the default directory layout produced by the
// acquisition pipeline:
//
//	<base>/latent/<resolution>_h<latent_dim>.csv
//	<base>/targets/<layer>_<resolution>.csv
type ConventionResolver struct {
	BaseDir string
	Kind    TableKind
}

type TableKind int

const (
	LatentKind TableKind = iota
	TargetKind
)

func (c *ConventionResolver) Resolve(d descriptor.Descriptor) (string, error) {
	switch c.Kind {
	case LatentKind:
		return filepath.Join(c.BaseDir, "latent", fmt.Sprintf("%s_h%02d.csv", d.Resolution, d.LatentDim)), nil
	case TargetKind:
		return filepath.Join(c.BaseDir, "targets", fmt.Sprintf("%s_%s.csv", d.Layer, d.Resolution)), nil
	default:
		return "", fmt.Errorf("unknown table kind %d", c.Kind)
	}
}

// NewConventionResolver builds a resolver rooted at dir using the default
// layout for both tables.
func NewConventionResolver(dir string) *Resolver {
	return &Resolver{
		Latent: &ConventionResolver{BaseDir: dir, Kind: LatentKind},
		Target: &ConventionResolver{BaseDir: dir, Kind: TargetKind},
	}
}
