package tutor

// Language selects which instruction template opens every request.
type Language string

const (
	LanguageHindi    Language = "Hindi"
	LanguageEnglish  Language = "English"
	LanguageHinglish Language = "Hinglish"
	LanguageTamil    Language = "Tamil"
	LanguageTelugu   Language = "Telugu"
)

// DefaultLanguage is the fallback for unrecognized language values.
const DefaultLanguage = LanguageEnglish

const systemPrompt = `You are SkillSling AI, a friendly tutor for Class 8-12 students.
- Give helpful, detailed answers
- Use tables for formulas and values
- For math: show step-by-step working
- Never say you are AI; act as a friendly tutor
- If asked about current affairs or news, explain this is an offline study platform and suggest checking the web for the latest information`

// Templates map 1:1 to the language enum. Each is prepended to the system
// prompt so the model answers in the student's language.
var instructionTemplates = map[Language]string{
	LanguageHindi:    "उत्तर 100% हिंदी में दें।",
	LanguageEnglish:  "Answer in English only.",
	LanguageHinglish: "Hinglish mein jawaab dein.",
	LanguageTamil:    "தமிழில் பதில் கூறவும்.",
	LanguageTelugu:   "Telugu lo javab ivvu.",
}

// Languages lists the supported locales in display order.
func Languages() []Language {
	return []Language{LanguageHindi, LanguageEnglish, LanguageHinglish, LanguageTamil, LanguageTelugu}
}

// Normalize maps an arbitrary string onto the language enum, falling back to
// the default for anything unrecognized.
func Normalize(value string) Language {
	lang := Language(value)
	if _, ok := instructionTemplates[lang]; ok {
		return lang
	}
	return DefaultLanguage
}

// Instruction returns the full instruction text for a language: the tutor
// system prompt plus the per-language directive.
func Instruction(lang Language) string {
	template, ok := instructionTemplates[lang]
	if !ok {
		template = instructionTemplates[DefaultLanguage]
	}
	return systemPrompt + "\n\n" + template
}
