package mcp

import (
	"fmt"
	"strings"
)

// FormatAnswer renders a respond result as markdown.
func FormatAnswer(out RespondOutput) string {
	var sb strings.Builder
	sb.WriteString(out.Answer)
	sb.WriteString("\n")

	if len(out.Citations) > 0 {
		sb.WriteString("\n**Sources**\n\n")
		for i, c := range out.Citations {
			if c.SourceID != "" {
				fmt.Fprintf(&sb, "%d. `%s` (%s)\n", i+1, c.ChunkID, c.SourceID)
			} else {
				fmt.Fprintf(&sb, "%d. `%s`\n", i+1, c.ChunkID)
			}
		}
	}

	if len(out.Degradations) > 0 {
		fmt.Fprintf(&sb, "\n_Degraded: %s_\n", strings.Join(out.Degradations, ", "))
	}
	return sb.String()
}

// FormatRetrieval renders retrieved chunks as markdown.
func FormatRetrieval(query string, out RetrieveOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range out.Results {
		header := r.ChunkID
		if r.SourceID != "" {
			header = fmt.Sprintf("%s (%s)", r.ChunkID, r.SourceID)
		}
		fmt.Fprintf(&sb, "### %d. %s (score: %.2f", i+1, header, r.Score)
		if r.ExactMatch {
			sb.WriteString(", exact match")
		}
		sb.WriteString(")\n\n")
		fmt.Fprintf(&sb, "%s\n\n", r.Text)
	}
	return sb.String()
}
