package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const DefaultModel = "small.en"

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp"

type Model struct {
	Name     string
	FileName string
	URL      string
	SHA256   string
	// SHA256URL points at the Git LFS pointer, whose "oid sha256:" line carries
	// the checksum for models without a pinned one.
	SHA256URL string
}

type ResolvedModel struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	SHA256URL     string
	NeedsDownload bool
	IsCustomPath  bool
}

var registry = map[string]Model{
	"tiny": {
		Name:   "tiny",
		SHA256: "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
	},
	"tiny.en":   {Name: "tiny.en"},
	"base":      {Name: "base", SHA256: "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe"},
	"base.en":   {Name: "base.en"},
	"small":     {Name: "small", SHA256: "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b"},
	"small.en":  {Name: "small.en"},
	"medium":    {Name: "medium", SHA256: "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208"},
	"medium.en": {Name: "medium.en"},
	"large-v3": {
		Name:   "large-v3",
		SHA256: "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
	},
}

func init() {
	for name, model := range registry {
		model.FileName = "ggml-" + name + ".bin"
		model.URL = hfBase + "/resolve/main/" + model.FileName
		if model.SHA256 == "" {
			model.SHA256URL = hfBase + "/raw/main/" + model.FileName
		}
		registry[name] = model
	}
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func LookupModel(name string) (Model, bool) {
	model, ok := registry[name]
	return model, ok
}

func ResolveModel(modelRef, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelRef) == "" {
		modelRef = DefaultModel
	}

	if model, ok := LookupModel(modelRef); ok {
		if strings.TrimSpace(modelDir) == "" {
			return ResolvedModel{}, errors.New("model directory must not be empty for named model")
		}

		modelPath := filepath.Join(modelDir, model.FileName)
		_, statErr := os.Stat(modelPath)
		needsDownload := errors.Is(statErr, os.ErrNotExist)
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return ResolvedModel{
			Name:          model.Name,
			Path:          modelPath,
			URL:           model.URL,
			SHA256:        model.SHA256,
			SHA256URL:     model.SHA256URL,
			NeedsDownload: needsDownload,
		}, nil
	}

	if !looksLikePath(modelRef) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", modelRef, strings.Join(ModelNames(), ", "))
	}

	customPath := filepath.Clean(modelRef)
	if _, err := os.Stat(customPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", customPath)
		}
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return ResolvedModel{
		Name:         strings.TrimSuffix(filepath.Base(customPath), ".bin"),
		Path:         customPath,
		IsCustomPath: true,
	}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}

// Installed lists the registry models whose file is present in modelDir.
func Installed(modelDir string) []string {
	var names []string
	for _, name := range ModelNames() {
		info, err := os.Stat(filepath.Join(modelDir, registry[name].FileName))
		if err == nil && !info.IsDir() {
			names = append(names, name)
		}
	}
	return names
}

// Catalog caches Installed so request handlers never scan the model
// directory. Refresh is called at startup, after setup, and by the watcher.
type Catalog struct {
	dir string

	mu    sync.RWMutex
	names []string
}

func NewCatalog(modelDir string) *Catalog {
	c := &Catalog{dir: modelDir}
	c.Refresh()
	return c
}

func (c *Catalog) Dir() string {
	return c.dir
}

func (c *Catalog) Refresh() []string {
	names := Installed(c.dir)
	c.mu.Lock()
	c.names = names
	c.mu.Unlock()
	return append([]string(nil), names...)
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}
