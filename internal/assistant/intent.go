package assistant

import "regexp"

var (
	searchIntentPattern = regexp.MustCompile(`(?i)\b(search|find|look\s*up|google|latest|today|news|current|real[-\s]?time|updated?)\b`)

	codeIntentPattern = regexp.MustCompile("(?i)(```|`[^`]+`|" +
		`\b(code|coding|programming|debug|bug|error|stack trace|exception|refactor|optimi[sz](e|ation)|algorithm|complexity|regex|sql|query|api|endpoint|function|class|typescript|javascript|python|java|golang|rust|react|node|express|mongodb)\b|` +
		`\bc\+\+)`)
)

type Intent struct {
	Text        string
	NeedsSearch bool
	Coding      bool
	FAQAnswer   string
	FAQMatched  bool
}

type Classifier struct {
	faq []FAQEntry
}

func NewClassifier(faq []FAQEntry) Classifier {
	return Classifier{faq: faq}
}

// Classify inspects only the latest user message. Without user text every
// signal is off and the general tier applies.
func (c Classifier) Classify(messages []Message) Intent {
	text := LastUserText(messages)
	if text == "" {
		return Intent{}
	}

	intent := Intent{
		Text:        text,
		NeedsSearch: NeedsRealtimeSearch(text),
		Coding:      IsCodingRequest(text),
	}
	if answer, ok := MatchFAQ(c.faq, text); ok {
		intent.FAQAnswer = answer
		intent.FAQMatched = true
	}
	return intent
}

func NeedsRealtimeSearch(text string) bool {
	return text != "" && searchIntentPattern.MatchString(text)
}

func IsCodingRequest(text string) bool {
	return text != "" && codeIntentPattern.MatchString(text)
}
