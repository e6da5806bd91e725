package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/proculyze/analyzer/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[models.Status]string{
	models.StatusCompleted: ":white_check_mark:",
	models.StatusFailed:    ":x:",
	models.StatusCanceled:  ":no_entry_sign:",
}

var statusLabel = map[models.Status]string{
	models.StatusCompleted: "Analysis Complete",
	models.StatusFailed:    "Analysis Failed",
	models.StatusCanceled:  "Analysis Cancelled",
}

func analysisURL(analysisID, dashboardURL string) string {
	return fmt.Sprintf("%s/analyses/%s", dashboardURL, analysisID)
}

// BuildTerminalMessage creates Block Kit blocks for a terminal analysis
// notification.
func BuildTerminalMessage(input CompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Analysis " + string(input.Status)
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if input.Status == models.StatusFailed && input.ErrorMessage != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
	}

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
		nil, nil,
	))

	if input.Status == models.StatusCompleted && len(input.Findings) > 0 {
		content := "*QA findings:*\n- " + joinFindings(input.Findings)
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(content), false, false),
			nil, nil,
		))
	}

	url := analysisURL(input.AnalysisID, dashboardURL)
	buttonText := "View Full Report"
	if input.Status != models.StatusCompleted {
		buttonText = "View Details"
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func joinFindings(findings []string) string {
	out := findings[0]
	for _, f := range findings[1:] {
		out += "\n- " + f
	}
	return out
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full analysis in dashboard)_"
}
