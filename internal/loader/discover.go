package loader

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
)

// File is one dataset found in the input directory.
type File struct {
	Path string
	Name string
	Kind domain.Kind
}

var supportedExtensions = map[string]struct{}{
	".xlsx": {},
	".csv":  {},
	".json": {},
}

// kindOrder is the ingestion order: recommendations link to resources stored earlier in the run.
var kindOrder = []domain.Kind{
	domain.KindResources,
	domain.KindCosts,
	domain.KindRecommendations,
}

// Discover lists the supported files directly inside dir, grouped by kind and sorted by name.
func Discover(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Spreadsheet lock files and dotfiles.
		if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		files = append(files, File{
			Path: filepath.Join(dir, name),
			Name: name,
			Kind: Classify(name),
		})
	}

	slices.SortStableFunc(files, func(a, b File) int {
		if d := slices.Index(kindOrder, a.Kind) - slices.Index(kindOrder, b.Kind); d != 0 {
			return d
		}
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

// Classify picks the record kind from a file name.
func Classify(name string) domain.Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "recommendation"):
		return domain.KindRecommendations
	case strings.Contains(lower, "cost"):
		return domain.KindCosts
	default:
		return domain.KindResources
	}
}
