// Package scene extracts structured image-generation prompts from
// finalized script text. Scripts follow the staged generation format:
// episode headings, numbered scenes, and visual prompt lines prefixed
// with '#'.
package scene

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Prompt is one visual description extracted from a script, addressed by
// episode and scene number.
type Prompt struct {
	Episode int    `json:"episode"`
	Scene   string `json:"scene"`
	Text    string `json:"prompt"`
}

// Extractor turns finalized script text into structured scene prompts.
type Extractor interface {
	Extract(scriptText string) ([]Prompt, error)
}

var (
	episodeRegex = regexp.MustCompile(`(?i)^#*\s*Episode\s+(\d+)\b`)
	sceneRegex   = regexp.MustCompile(`(?i)^(?:#+\s*)?Scene\s+(\d+)-(\d+)\s*[:：]`)
	titleRegex   = regexp.MustCompile(`(?i)^#+\s*Title\s*[:：]`)
)

// MarkerExtractor parses the marker format the generation prompts ask
// for. It is tolerant of drift in the generated text: a scene numbered
// under the wrong episode is renumbered to the episode it appears in,
// and a script with no episode heading is treated as episode 1.
type MarkerExtractor struct{}

// NewMarkerExtractor creates a MarkerExtractor.
func NewMarkerExtractor() *MarkerExtractor {
	return &MarkerExtractor{}
}

// Extract walks the script line by line, tracking the current episode
// and scene, and collects every '#'-prefixed visual prompt line under
// the scene it belongs to. Prompts are returned in document order.
func (e *MarkerExtractor) Extract(scriptText string) ([]Prompt, error) {
	if strings.TrimSpace(scriptText) == "" {
		return nil, nil
	}

	episode := 0
	scene := ""
	var prompts []Prompt

	for _, raw := range strings.Split(scriptText, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := episodeRegex.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				episode = n
				scene = ""
			}
			continue
		}

		if m := sceneRegex.FindStringSubmatch(line); m != nil {
			sceneEp, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if episode == 0 {
				episode = sceneEp
			}
			// The scene's episode part wins when it disagrees with the
			// last heading, matching how scripts interleave recaps.
			if sceneEp != episode && sceneEp > 0 {
				episode = sceneEp
			}
			scene = fmt.Sprintf("%d-%s", episode, m[2])
			continue
		}

		if strings.HasPrefix(line, "#") && scene != "" {
			if titleRegex.MatchString(line) {
				continue
			}
			prompts = append(prompts, Prompt{
				Episode: episode,
				Scene:   scene,
				Text:    line,
			})
		}
	}

	if episode == 0 && len(prompts) == 0 {
		return nil, nil
	}
	return prompts, nil
}
