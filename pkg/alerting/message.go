package alerting

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/audiorag/audiorag/pkg/models"
)

const maxBlockTextLength = 2900

var severityEmoji = map[models.Severity]string{
	models.SeverityInfo:     ":information_source:",
	models.SeverityWarning:  ":warning:",
	models.SeverityError:    ":x:",
	models.SeverityCritical: ":rotating_light:",
}

// BuildAlertMessage creates Block Kit blocks for one alert.
func BuildAlertMessage(alert models.Alert) []goslack.Block {
	emoji := severityEmoji[alert.Severity]
	if emoji == "" {
		emoji = ":question:"
	}
	header := fmt.Sprintf("%s *%s* (`%s`)", emoji, alert.Severity, alert.Kind)
	body := fmt.Sprintf("%s\n_raised %s_",
		truncateForSlack(alert.Message),
		alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "…"
}
