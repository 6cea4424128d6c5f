// Package render produces localized birthday greeting copy.
package render

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	defaultSubject = "Happy birthday!"
	defaultBody    = "Happy birthday, %s! Everyone at the centre wishes you a wonderful day."
)

var supportedTags = []language.Tag{
	language.English,
	language.Afrikaans,
}

var tagMatcher = language.NewMatcher(supportedTags)

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Message is one rendered greeting.
type Message struct {
	Subject string
	Body    string
}

// Supported returns the greeting languages the renderer carries copy for.
func Supported() []language.Tag {
	tags := make([]language.Tag, len(supportedTags))
	copy(tags, supportedTags)
	return tags
}

// Default returns the fallback greeting language.
func Default() language.Tag {
	return language.English
}

// ResolveTag matches an operator-provided language token to a supported tag.
func ResolveTag(raw string) language.Tag {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Default()
	}
	parsed, err := language.Parse(trimmed)
	if err != nil {
		return Default()
	}
	_, index, confidence := tagMatcher.Match(parsed)
	if confidence == language.No {
		return Default()
	}
	return supportedTags[index]
}

// Printer returns a message printer for the supplied tag.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// Greeting renders localized birthday copy for one learner.
func Greeting(loc Localizer, givenName string) Message {
	subject := localizeWithFallback(loc, "greeting.birthday.subject", defaultSubject)
	body := strings.TrimSpace(localize(loc, "greeting.birthday.body", givenName))
	if body == "" || body == "greeting.birthday.body" {
		body = strings.Replace(defaultBody, "%s", givenName, 1)
	}
	return Message{Subject: subject, Body: body}
}

func localize(loc Localizer, key message.Reference, args ...any) string {
	if loc == nil {
		if asString, ok := key.(string); ok {
			return asString
		}
		return ""
	}
	return loc.Sprintf(key, args...)
}

func localizeWithFallback(loc Localizer, key string, fallback string) string {
	value := strings.TrimSpace(localize(loc, key))
	if value == "" || value == key {
		return fallback
	}
	return value
}
