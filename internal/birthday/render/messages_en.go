package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "greeting.birthday.subject", defaultSubject)
	message.SetString(lang, "greeting.birthday.body", defaultBody)
}
