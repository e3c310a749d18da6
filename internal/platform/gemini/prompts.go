package gemini

import (
	"fmt"
	"strings"

	"github.com/fablecast/fablecast-api/internal/domain"
)

// outlinePrompt builds the prompt for the first stage: the character
// development table and the full episode directory.
func outlinePrompt(req domain.ScriptRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, `[Role]
You are a short-form drama generator specializing in %s series.

[Task]
Generate the following, in order:
1. A series title on a line starting with "# Title:".
2. A character development table for every listed character.
3. A complete episode directory for episodes 1 through %d.

[Parameters]
Genre: %s
Episodes: %d
Duration per episode: %s

[Character development]
Produce a markdown table with columns: name, role, appearance, personality,
current goal and motivation, conflict hook. Every character below must appear
in the table and in the series. Each entry is "name,gender,age":
`, req.Genre, req.Episodes, req.Genre, req.Episodes, req.Duration)

	for _, c := range req.Characters {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	fmt.Fprintf(&b, `
[Episode directory]
List every episode on its own line as "# Episode N: title - one-line summary".
Each episode summary must end on a hook that leads into the next episode.
`)

	return b.String()
}

// episodePrompt builds the prompt for one episode stage. It carries the
// finished outline so each episode follows the planned directory, and the
// tail of the previous episode so dialogue and plot stay continuous.
func episodePrompt(req domain.ScriptRequest, episode int, outline, priorTail string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `[Role]
You are a short-form drama scriptwriter continuing a %s series.

[Task]
Write the complete script for episode %d of %d. Target duration: %s.

[Format]
- Open with "# Episode %d" on its own line.
- Divide the episode into scenes headed "Scene %d-M:" where M counts from 1.
- Under each scene heading, include one line starting with "#" describing the
  key visual of the scene, then the dialogue and action.
- Dialogue lines are "NAME: line".

[Series outline]
%s
`, req.Genre, episode, req.Episodes, req.Duration, episode, episode, outline)

	if priorTail != "" {
		fmt.Fprintf(&b, `
[End of previous episode]
Continue directly from this text without repeating it:
%s
`, priorTail)
	}

	return b.String()
}
