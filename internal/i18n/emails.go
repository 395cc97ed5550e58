package i18n

import (
	"strconv"
	"strings"
)

type EmailContent struct {
	Subject string
	Text    string
	HTML    string
}

type emailStrings struct {
	VerificationSubject string
	VerificationText    string
	VerificationHTML    string
}

var emailTranslations = map[string]emailStrings{
	"en": {
		VerificationSubject: "Verify your email",
		VerificationText:    "Your verification code is {code}. It is valid for {minutes} minutes.",
		VerificationHTML: "<p>Verify your email</p>" +
			"<p>Use the code below to verify your email address.</p>" +
			"<p><strong>{code}</strong></p>" +
			"<p>The code expires in {minutes} minutes and can be used once.</p>" +
			"<p>If you did not sign up, you can ignore this email.</p>",
	},
	"de": {
		VerificationSubject: "E-Mail verifizieren",
		VerificationText:    "Ihr Verifizierungscode ist {code}. Er ist {minutes} Minuten gültig.",
		VerificationHTML: "<p>E-Mail verifizieren</p>" +
			"<p>Verwenden Sie den untenstehenden Code, um Ihre E-Mail zu verifizieren.</p>" +
			"<p><strong>{code}</strong></p>" +
			"<p>Der Code ist {minutes} Minuten gültig und kann einmal verwendet werden.</p>" +
			"<p>Wenn Sie sich nicht registriert haben, können Sie diese E-Mail ignorieren.</p>",
	},
}

func emailStringsForLocale(locale string) emailStrings {
	if val, ok := emailTranslations[NormalizeLocale(locale)]; ok {
		return val
	}
	return emailTranslations[DefaultLocale]
}

func renderTemplate(tmpl string, values map[string]string) string {
	if tmpl == "" || len(values) == 0 {
		return tmpl
	}
	replacements := make([]string, 0, len(values)*2)
	for key, value := range values {
		replacements = append(replacements, "{"+key+"}", value)
	}
	return strings.NewReplacer(replacements...).Replace(tmpl)
}

// VerificationEmail renders the message carrying an email verification code.
func VerificationEmail(locale, code string, minutes int) EmailContent {
	templates := emailStringsForLocale(locale)
	values := map[string]string{
		"code":    code,
		"minutes": strconv.Itoa(minutes),
	}
	return EmailContent{
		Subject: templates.VerificationSubject,
		Text:    renderTemplate(templates.VerificationText, values),
		HTML:    renderTemplate(templates.VerificationHTML, values),
	}
}
