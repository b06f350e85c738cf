package scheduler

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/adaharness/ada/pkg/types"
)

const promptTemplateFile = "prompt-template.yaml"

// PromptTemplate is the optional YAML document under .ada/prompt-template.yaml
// that customizes the header/footer wrapped around a feature's title and
// description before it's handed to the agent, with an optional per-category
// override of the header.
type PromptTemplate struct {
	Header     string            `yaml:"header"`
	Footer     string            `yaml:"footer"`
	ByCategory map[string]string `yaml:"by_category"`
}

// loadPromptTemplate reads .ada/prompt-template.yaml under workDir, returning
// (nil, nil) if the file doesn't exist — the template is optional, and a
// missing file just means renderPrompt falls back to the bare title and
// description.
func loadPromptTemplate(workDir string) (*PromptTemplate, error) {
	path := filepath.Join(workDir, ".ada", promptTemplateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read prompt template: %w", err)
	}

	var tpl PromptTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", path, err)
	}
	return &tpl, nil
}

// header picks the per-category header override for f if one is configured,
// falling back to the template's default header.
func (t *PromptTemplate) header(f *types.Feature) string {
	if t == nil {
		return ""
	}
	if f.Category != "" {
		if h, ok := t.ByCategory[string(f.Category)]; ok {
			return h
		}
	}
	return t.Header
}
