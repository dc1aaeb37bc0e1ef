package thinking

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Artifact is a summary of one run file on disk.
type Artifact struct {
	Path             string         `json:"artifact_path"`
	RunID            string         `json:"run_id"`
	GeneratedAt      time.Time      `json:"generated_at"`
	SuggestionsCount int            `json:"suggestions_count"`
	ByType           map[string]int `json:"by_type"`
}

// WriteArtifact writes out as thinking_<ts>_<runid>.json in dir, replacing
// the file atomically.
func WriteArtifact(out RunOutput, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating thinking output directory: %w", err)
	}
	safeID := strings.NewReplacer("/", "_", " ", "_").Replace(out.RunID)
	target := filepath.Join(dir, fmt.Sprintf("thinking_%s_%s.json", out.GeneratedAt.UTC().Format("20060102_150405"), safeID))

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding thinking run: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing thinking artifact: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming thinking artifact: %w", err)
	}
	return target, nil
}

// ListArtifacts returns up to limit run files in dir, newest first. A
// missing directory yields no artifacts.
func ListArtifacts(dir string, limit int) ([]Artifact, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "thinking_*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing thinking artifacts: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if len(paths) > max(1, limit) {
		paths = paths[:max(1, limit)]
	}

	out := make([]Artifact, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		var run RunOutput
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		byType := map[string]int{TypeConflict: 0, TypeNextStep: 0, TypeRecommendation: 0}
		for _, s := range run.Suggestions {
			byType[s.Type]++
		}
		out = append(out, Artifact{
			Path:             p,
			RunID:            run.RunID,
			GeneratedAt:      run.GeneratedAt,
			SuggestionsCount: len(run.Suggestions),
			ByType:           byType,
		})
	}
	return out, nil
}
