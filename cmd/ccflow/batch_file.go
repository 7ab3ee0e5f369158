package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// batchFile is the YAML document accepted by `ccflow batch`.
type batchFile struct {
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Prompts      []string `yaml:"prompts"`
}

func isBatchFileArg(args []string) bool {
	if len(args) != 1 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(args[0]))
	return ext == ".yaml" || ext == ".yml"
}

func loadBatchFile(path string) (batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return batchFile{}, fmt.Errorf("read batch file: %w", err)
	}
	return parseBatchFile(data)
}

func parseBatchFile(data []byte) (batchFile, error) {
	var file batchFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return batchFile{}, fmt.Errorf("parse batch file: %w", err)
	}

	prompts := make([]string, 0, len(file.Prompts))
	for _, prompt := range file.Prompts {
		if trimmed := strings.TrimSpace(prompt); trimmed != "" {
			prompts = append(prompts, trimmed)
		}
	}
	if len(prompts) == 0 {
		return batchFile{}, fmt.Errorf("batch file has no prompts")
	}
	file.Prompts = prompts
	file.Model = strings.TrimSpace(file.Model)
	return file, nil
}
