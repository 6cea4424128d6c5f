package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.Afrikaans

	message.SetString(lang, "greeting.birthday.subject", "Veels geluk met jou verjaarsdag!")
	message.SetString(lang, "greeting.birthday.body", "Veels geluk met jou verjaarsdag, %s! Almal by die sentrum wens jou 'n wonderlike dag toe.")
}
