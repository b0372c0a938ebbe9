package waiting

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

const DefaultDateFormat = "2006-01-02"

var ErrInvalidAnswer = errors.New("invalid answer")

var answers = validator.New()

// tagParam escapes separators validator reserves inside tag parameters.
var tagParam = strings.NewReplacer(",", "0x2C", "|", "0x7C")

// Validate coerces a reply into the value stored for the answer type. The
// error carries a hint suitable for the customer.
func Validate(config *models.WaitingConfig, raw string) (any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, invalid(config)
	}

	switch config.AnswerType {
	case models.AnswerText:
		return text, nil
	case models.AnswerNumber:
		return parseNumber(config, text)
	case models.AnswerEmail:
		return parseEmail(config, text)
	case models.AnswerPhone:
		return parsePhone(config, text)
	case models.AnswerDate:
		return parseDate(config, text)
	case models.AnswerChoice:
		if slices.Contains(config.ChoiceOptions, text) {
			return text, nil
		}

		return nil, invalid(config)
	default:
		problem := &models.ConfigurationError{}
		problem.Add("", "answer_type", "unknown answer type %q", config.AnswerType)

		return nil, problem
	}
}

// thousands matches digit groups like 1,250 or 12,500.75.
var thousands = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

func parseNumber(config *models.WaitingConfig, text string) (any, error) {
	normalized := strings.ReplaceAll(text, " ", "")

	switch {
	case thousands.MatchString(normalized):
		normalized = strings.ReplaceAll(normalized, ",", "")
	case strings.Count(normalized, ",") == 1 && !strings.Contains(normalized, "."):
		normalized = strings.Replace(normalized, ",", ".", 1)
	}

	// numeric rejects NaN, Inf, exponents and hex floats.
	if answers.Var(normalized, "required,numeric") != nil {
		return nil, invalid(config)
	}

	number, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsInf(number, 0) || math.IsNaN(number) {
		return nil, invalid(config)
	}

	return number, nil
}

func parseEmail(config *models.WaitingConfig, text string) (any, error) {
	if answers.Var(text, "required,email") != nil {
		return nil, invalid(config)
	}

	return strings.ToLower(text), nil
}

func parsePhone(config *models.WaitingConfig, text string) (any, error) {
	stripped := phoneSeparators.Replace(text)

	tag := "required,number,min=7,max=15"
	if strings.HasPrefix(stripped, "+") {
		tag = "required,e164"
	}

	if answers.Var(stripped, tag) != nil {
		return nil, invalid(config)
	}

	return stripped, nil
}

func parseDate(config *models.WaitingConfig, text string) (any, error) {
	format := dateFormat(config)

	if answers.Var(text, "required,datetime="+tagParam.Replace(format)) != nil {
		return nil, invalid(config)
	}

	date, err := time.Parse(format, text)
	if err != nil {
		return nil, invalid(config)
	}

	return date.Format(DefaultDateFormat), nil
}

func dateFormat(config *models.WaitingConfig) string {
	if config.DateFormat != "" {
		return config.DateFormat
	}

	return DefaultDateFormat
}

func invalid(config *models.WaitingConfig) error {
	return fmt.Errorf("%w: %s", ErrInvalidAnswer, Hint(config))
}

// Hint tells the customer what a valid answer looks like.
func Hint(config *models.WaitingConfig) string {
	switch config.AnswerType {
	case models.AnswerNumber:
		return "Please reply with a number."
	case models.AnswerEmail:
		return "Please reply with a valid email address, like name@example.com."
	case models.AnswerPhone:
		return "Please reply with a valid phone number, including the area code."
	case models.AnswerDate:
		example := time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC).Format(dateFormat(config))

		return "Please reply with a date like " + example + "."
	case models.AnswerChoice:
		return "Please reply with one of: " + strings.Join(config.ChoiceOptions, ", ") + "."
	default:
		return "Please reply with a message."
	}
}
